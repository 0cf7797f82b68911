package sim

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// request is one command frame on the control link.
type request struct {
	Op           string   `json:"op"`
	Lanes        []string `json:"lanes,omitempty"`
	Intersection string   `json:"intersection,omitempty"`
	Phase        *int     `json:"phase,omitempty"`
	Duration     float64  `json:"duration,omitempty"`
}

// response is the simulator's reply frame.
type response struct {
	Error            string                `json:"error,omitempty"`
	Time             float64               `json:"time"`
	ActiveVehicles   int                   `json:"active_vehicles"`
	ExpectedVehicles int                   `json:"expected_vehicles"`
	Lanes            map[string]LaneSample `json:"lanes,omitempty"`
}

// Error strings the simulator uses for program-write faults. Anything else
// in the error field is treated as a link-level failure.
const (
	wireErrUnknownIntersection = "unknown intersection"
	wireErrInvalidPhase        = "invalid phase"
)

// Client speaks the simulator's remote-control protocol: one JSON object
// per line, strict request/response over a single TCP connection. The wire
// format is the simulator's concern; the client only frames commands and
// maps faults onto the package's error taxonomy.
type Client struct {
	conn    net.Conn
	rd      *bufio.Reader
	timeout time.Duration
	lost    bool
}

// Dial connects to the simulator's control socket.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial simulator %s: %w", addr, ErrConnectionLost)
	}
	return &Client{
		conn:    conn,
		rd:      bufio.NewReader(conn),
		timeout: timeout,
	}, nil
}

// roundTrip sends one request and decodes the reply. Any transport fault
// marks the link lost; the simulator cannot resume a half-finished step,
// so a lost link is terminal for the client.
func (c *Client) roundTrip(ctx context.Context, req request) (*response, error) {
	if c.lost {
		return nil, ErrConnectionLost
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		c.lost = true
		return nil, fmt.Errorf("set deadline: %w", ErrConnectionLost)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", req.Op, err)
	}
	payload = append(payload, '\n')
	if _, err := c.conn.Write(payload); err != nil {
		c.lost = true
		return nil, fmt.Errorf("write %s: %w", req.Op, ErrConnectionLost)
	}

	line, err := c.rd.ReadBytes('\n')
	if err != nil {
		c.lost = true
		return nil, fmt.Errorf("read %s reply: %w", req.Op, ErrConnectionLost)
	}

	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		c.lost = true
		return nil, fmt.Errorf("decode %s reply: %w", req.Op, ErrConnectionLost)
	}
	return &resp, nil
}

// Advance runs one simulation step.
func (c *Client) Advance(ctx context.Context) (StepResult, error) {
	resp, err := c.roundTrip(ctx, request{Op: "advance"})
	if err != nil {
		return StepResult{}, err
	}
	if resp.Error != "" {
		c.lost = true
		return StepResult{}, fmt.Errorf("advance: %s: %w", resp.Error, ErrConnectionLost)
	}
	result := StepResult{
		Time:             resp.Time,
		ActiveVehicles:   resp.ActiveVehicles,
		ExpectedVehicles: resp.ExpectedVehicles,
	}
	if result.ExpectedVehicles == 0 {
		return result, ErrEndOfSimulation
	}
	return result, nil
}

// ReadLaneState fetches per-lane telemetry for one step.
func (c *Client) ReadLaneState(ctx context.Context, laneIDs []string) (map[string]LaneSample, error) {
	resp, err := c.roundTrip(ctx, request{Op: "lanes", Lanes: laneIDs})
	if err != nil {
		return nil, err
	}
	if resp.Error != "" {
		c.lost = true
		return nil, fmt.Errorf("lanes: %s: %w", resp.Error, ErrConnectionLost)
	}
	if resp.Lanes == nil {
		return map[string]LaneSample{}, nil
	}
	return resp.Lanes, nil
}

// ApplyProgram writes a phase update to the simulator.
func (c *Client) ApplyProgram(ctx context.Context, update SignalProgramUpdate) error {
	phase := update.PhaseIndex
	resp, err := c.roundTrip(ctx, request{
		Op:           "set_phase",
		Intersection: update.IntersectionID,
		Phase:        &phase,
		Duration:     update.DurationSec,
	})
	if err != nil {
		return err
	}
	switch resp.Error {
	case "":
		return nil
	case wireErrUnknownIntersection:
		return fmt.Errorf("apply %s: %w", update.IntersectionID, ErrIntersectionNotFound)
	case wireErrInvalidPhase:
		return fmt.Errorf("apply %s phase %d: %w", update.IntersectionID, update.PhaseIndex, ErrInvalidPhase)
	default:
		c.lost = true
		return fmt.Errorf("apply %s: %s: %w", update.IntersectionID, resp.Error, ErrConnectionLost)
	}
}

// Close releases the control socket.
func (c *Client) Close() error {
	return c.conn.Close()
}
