package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"campsite.sim/internal/protocol"
	"campsite.sim/internal/sim/site"
)

func newEditCommand() *cobra.Command {
	var (
		url     string
		file    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "edit",
		Short: "Send edits (one JSON object per line) to a running server",
		Long: `edit reads site edits as JSON lines from --file (or stdin) and submits them
over the server's edit websocket. Each line prints its result in input order.

  echo '{"kind":"PLACE","object":"HEDGE","pos":[3,4]}' | campctl edit --url ws://127.0.0.1:8080/v1/edits`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			edits, err := readEdits(in)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			failed, err := sendEdits(ctx, url, edits, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d edits rejected", failed, len(edits))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "ws://127.0.0.1:8080/v1/edits", "edit websocket url")
	cmd.Flags().StringVar(&file, "file", "", "JSON lines file (default stdin)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "give up after this long")
	return cmd
}

func readEdits(r io.Reader) ([]site.Edit, error) {
	var out []site.Edit
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var e site.Edit
		if err := json.Unmarshal([]byte(text), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

// sendEdits pipelines edits over one session and prints each outcome in input
// order. It returns how many were rejected.
func sendEdits(ctx context.Context, url string, edits []site.Edit, out io.Writer) (int, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
	}

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Client:          "campctl",
		MaxInFlight:     len(edits) + 1,
	}); err != nil {
		return 0, fmt.Errorf("send HELLO: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		return 0, fmt.Errorf("read WELCOME: %w", err)
	}
	if welcome.Type != protocol.TypeWelcome {
		return 0, fmt.Errorf("expected WELCOME, got %q", welcome.Type)
	}
	fmt.Fprintf(out, "session %s site=%s tick=%d\n", welcome.SessionID, welcome.Site.SiteID, welcome.Site.Tick)

	lines := make([]string, len(edits))
	var failed int
	var g errgroup.Group
	g.Go(func() error {
		for i, e := range edits {
			msg := protocol.EditMsg{Type: protocol.TypeEdit, ProtocolVersion: protocol.Version, Ref: strconv.Itoa(i), Edit: e}
			if err := conn.WriteJSON(msg); err != nil {
				return fmt.Errorf("send edit %d: %w", i, err)
			}
		}
		return nil
	})
	g.Go(func() error {
		for answered := 0; answered < len(edits); answered++ {
			_, b, err := conn.ReadMessage()
			if err != nil {
				return fmt.Errorf("read: %w", err)
			}
			base, err := protocol.DecodeBase(b)
			if err != nil {
				return err
			}
			var ref, line string
			switch base.Type {
			case protocol.TypeResult:
				var m protocol.ResultMsg
				if err := json.Unmarshal(b, &m); err != nil {
					return err
				}
				ref = m.Ref
				if m.Result.OK {
					line = fmt.Sprintf("ok id=%d", m.Result.ID)
				} else {
					failed++
					line = fmt.Sprintf("rejected %s %s", m.Result.Code, m.Result.Message)
				}
			case protocol.TypeError:
				var m protocol.ErrorMsg
				if err := json.Unmarshal(b, &m); err != nil {
					return err
				}
				ref = m.Ref
				failed++
				line = fmt.Sprintf("error %s %s", m.Code, m.Message)
			default:
				answered--
				continue
			}
			i, err := strconv.Atoi(ref)
			if err != nil || i < 0 || i >= len(edits) || lines[i] != "" {
				return fmt.Errorf("unexpected ref %q", ref)
			}
			lines[i] = line
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return failed, err
	}
	for i, l := range lines {
		fmt.Fprintf(out, "%-4d %-14s %s\n", i+1, edits[i].Kind, strings.TrimSpace(l))
	}
	return failed, nil
}
