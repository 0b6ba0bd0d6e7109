package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"campsite.sim/internal/sim/grid"
	"campsite.sim/internal/sim/navmesh"
	"campsite.sim/internal/sim/site"
)

// loopSite is what the debug handlers need from the running site. Queries go
// through the loop's request channels so they never race a tick.
type loopSite interface {
	Info() site.Info
	Routes() chan<- site.RouteRequest
	Supply() chan<- site.SupplyRequest
	Overlays() chan<- site.OverlayRequest
}

type routeView struct {
	OK        bool               `json:"ok"`
	Category  string             `json:"category"`
	Cost      float64            `json:"cost,omitempty"`
	Corridor  []navmesh.RegionID `json:"corridor,omitempty"`
	Cells     [][2]int           `json:"cells,omitempty"`
	Waypoints [][2]int           `json:"waypoints,omitempty"`
}

func registerDebugHandlers(mux *http.ServeMux, s loopSite, timeout time.Duration) {
	mux.HandleFunc("/debug/v1/state", localOnly(func(rw http.ResponseWriter, r *http.Request) {
		writeJSON(rw, http.StatusOK, s.Info())
	}))

	mux.HandleFunc("/debug/v1/route", localOnly(func(rw http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		from, err1 := parsePos(q.Get("from"))
		to, err2 := parsePos(q.Get("to"))
		cat, okCat := navmesh.ParseCategory(strings.ToUpper(q.Get("class")))
		if err1 != nil || err2 != nil || !okCat {
			http.Error(rw, "usage: ?from=x,y&to=x,y[&class=PEOPLE|VEHICLES]", http.StatusBadRequest)
			return
		}
		resp := make(chan site.RouteResponse, 1)
		res, err := ask(r.Context(), timeout, s.Routes(), site.RouteRequest{Start: from, Goal: to, Category: cat, Resp: resp}, resp)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		v := routeView{OK: res.OK, Category: cat.String()}
		if res.OK {
			v.Cost = res.Route.Cost
			v.Corridor = res.Route.Corridor
			v.Cells = pairs(res.Route.Cells)
			v.Waypoints = pairs(res.Route.Waypoints)
		}
		writeJSON(rw, http.StatusOK, v)
	}))

	mux.HandleFunc("/debug/v1/supply", localOnly(func(rw http.ResponseWriter, r *http.Request) {
		resp := make(chan []site.SupplyStatus, 1)
		res, err := ask(r.Context(), timeout, s.Supply(), site.SupplyRequest{Resp: resp}, resp)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(rw, http.StatusOK, res)
	}))

	mux.HandleFunc("/debug/v1/overlay", localOnly(func(rw http.ResponseWriter, r *http.Request) {
		resp := make(chan site.OverlayResponse, 1)
		res, err := ask(r.Context(), timeout, s.Overlays(), site.OverlayRequest{Resp: resp}, resp)
		if err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if !res.Enabled {
			http.Error(rw, "debug mode is off", http.StatusConflict)
			return
		}
		writeJSON(rw, http.StatusOK, res.Overlay)
	}))
}

// ask sends req to the loop and waits for its answer on resp.
func ask[Req, Resp any](ctx context.Context, timeout time.Duration, ch chan<- Req, req Req, resp <-chan Resp) (Resp, error) {
	var zero Resp
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	select {
	case ch <- req:
	case <-ctx.Done():
		return zero, fmt.Errorf("site busy: %w", ctx.Err())
	}
	select {
	case v := <-resp:
		return v, nil
	case <-ctx.Done():
		return zero, fmt.Errorf("site did not answer: %w", ctx.Err())
	}
}

func parsePos(s string) (grid.Pos, error) {
	xs, ys, ok := strings.Cut(s, ",")
	if !ok {
		return grid.Pos{}, fmt.Errorf("bad position %q", s)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return grid.Pos{}, err
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return grid.Pos{}, err
	}
	return grid.Pos{X: x, Y: y}, nil
}

func pairs(ps []grid.Pos) [][2]int {
	out := make([][2]int, 0, len(ps))
	for _, p := range ps {
		out = append(out, [2]int{p.X, p.Y})
	}
	return out
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func localOnly(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
