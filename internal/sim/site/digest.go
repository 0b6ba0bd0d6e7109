package site

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sort"

	"campsite.sim/internal/sim/dispatch"
)

type hashWriter interface {
	Write(p []byte) (n int, err error)
}

// stateDigest hashes the authoritative state. Derived structures (meshes,
// connected sets) are left out: they are functions of what is hashed.
func (s *Site) stateDigest(nowTick uint64) string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteU64(h, &tmp, nowTick)
	gd := s.grid.Digest()
	h.Write(gd[:])
	s.digestObjects(h, &tmp)
	s.digestUtility(h, &tmp)
	s.digestTasks(h, &tmp)
	s.digestAgents(h, &tmp)

	digestWriteU64(h, &tmp, uint64(s.nextObject))
	digestWriteU64(h, &tmp, uint64(s.nextAgent))
	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hashWriter, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteI64(h hashWriter, tmp *[8]byte, v int64) {
	digestWriteU64(h, tmp, uint64(v))
}

func digestWriteString(h hashWriter, tmp *[8]byte, v string) {
	digestWriteU64(h, tmp, uint64(len(v)))
	h.Write([]byte(v))
}

func digestWriteF64(h hashWriter, tmp *[8]byte, v float64) {
	digestWriteU64(h, tmp, math.Float64bits(v))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func (s *Site) digestObjects(h hashWriter, tmp *[8]byte) {
	objs := s.Objects()
	digestWriteU64(h, tmp, uint64(len(objs)))
	for _, o := range objs {
		digestWriteU64(h, tmp, uint64(o.ID))
		digestWriteString(h, tmp, o.Kind)
		digestWriteI64(h, tmp, int64(o.Footprint.Min.X))
		digestWriteI64(h, tmp, int64(o.Footprint.Min.Y))
		digestWriteI64(h, tmp, int64(o.Footprint.W))
		digestWriteI64(h, tmp, int64(o.Footprint.H))
		digestWriteU64(h, tmp, o.PlacedTick)
		h.Write([]byte{boolByte(o.Built), boolByte(o.Underground)})
	}
}

func (s *Site) digestUtility(h hashWriter, tmp *[8]byte) {
	nodes, edges := s.network.Export()
	digestWriteU64(h, tmp, uint64(len(nodes)))
	for _, n := range nodes {
		digestWriteString(h, tmp, string(n.ID))
		digestWriteU64(h, tmp, uint64(n.Sources))
		digestWriteU64(h, tmp, uint64(n.Requires))
	}
	digestWriteU64(h, tmp, uint64(len(edges)))
	for _, e := range edges {
		digestWriteString(h, tmp, string(e.A))
		digestWriteString(h, tmp, string(e.B))
		digestWriteU64(h, tmp, uint64(e.Types))
	}
}

func (s *Site) digestTasks(h hashWriter, tmp *[8]byte) {
	st := s.dispatch.Export()
	digestWriteU64(h, tmp, uint64(st.NextTask))
	digestWriteU64(h, tmp, st.Seq)
	digestWriteU64(h, tmp, uint64(len(st.Tasks)))
	for _, t := range st.Tasks {
		digestWriteU64(h, tmp, uint64(t.ID))
		digestWriteString(h, tmp, t.Kind)
		digestWriteI64(h, tmp, int64(t.Location.X))
		digestWriteI64(h, tmp, int64(t.Location.Y))
		digestWriteI64(h, tmp, int64(t.Priority))
		digestWriteU64(h, tmp, uint64(t.Status))
		digestWriteU64(h, tmp, uint64(t.Assignee))
		digestWriteU64(h, tmp, t.Seq)
		digestWriteI64(h, tmp, int64(t.WorkTicks))
		digestWriteF64(h, tmp, t.Progress)
		digestWriteU64(h, tmp, t.CreatedTick)
		digestWriteU64(h, tmp, uint64(s.taskObject[t.ID]))
	}
	digestWriteU64(h, tmp, uint64(len(st.Employees)))
	for _, e := range st.Employees {
		digestEmployee(h, tmp, e)
	}
}

func digestEmployee(h hashWriter, tmp *[8]byte, e dispatch.Employee) {
	digestWriteU64(h, tmp, uint64(e.ID))
	digestWriteString(h, tmp, e.Name)
	digestWriteI64(h, tmp, int64(e.Seniority))
	digestWriteU64(h, tmp, uint64(len(e.Specializations)))
	for _, k := range e.Specializations {
		digestWriteString(h, tmp, k)
	}
	digestWriteU64(h, tmp, uint64(len(e.Capabilities)))
	for _, k := range e.Capabilities {
		digestWriteString(h, tmp, k)
	}
	kinds := make([]string, 0, len(e.Efficiency))
	for k := range e.Efficiency {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	digestWriteU64(h, tmp, uint64(len(kinds)))
	for _, k := range kinds {
		digestWriteString(h, tmp, k)
		digestWriteF64(h, tmp, e.Efficiency[k])
	}
}

func (s *Site) digestAgents(h hashWriter, tmp *[8]byte) {
	ids := s.agentIDs()
	digestWriteU64(h, tmp, uint64(len(ids)))
	for _, id := range ids {
		a := s.agents[id]
		digestWriteU64(h, tmp, uint64(a.ID))
		digestWriteString(h, tmp, string(a.Kind))
		digestWriteU64(h, tmp, uint64(a.Class))
		digestWriteI64(h, tmp, int64(a.Pos.X))
		digestWriteI64(h, tmp, int64(a.Pos.Y))
		h.Write([]byte{boolByte(a.HasGoal)})
		digestWriteI64(h, tmp, int64(a.Goal.X))
		digestWriteI64(h, tmp, int64(a.Goal.Y))
		digestWriteU64(h, tmp, uint64(a.Task))
		digestWriteU64(h, tmp, uint64(len(a.Route)))
		for _, p := range a.Route {
			digestWriteI64(h, tmp, int64(p.X))
			digestWriteI64(h, tmp, int64(p.Y))
		}
		digestWriteI64(h, tmp, int64(a.RouteIdx))
	}
}
