package device

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"RollerLink/internal/model"
)

// HTTPLink sends commands to the ESP32 REST endpoints:
//
//	POST /motor/{a|b}/start
//	POST /motor/{a|b}/stop
//	POST /motor/{a|b}/speed      {"speed":N}
//	POST /motor/{a|b}/direction  {"direction":"forward|reverse"}
//	POST /command                {"command":"LED_ON","motor":"A"}
//
// Any 2xx answer acknowledges the command.
type HTTPLink struct {
	base   string
	client *http.Client
}

// NewHTTPLink returns a link to the controller at baseURL. A nil client selects
// http.DefaultClient.
func NewHTTPLink(baseURL string, client *http.Client) *HTTPLink {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPLink{base: strings.TrimRight(baseURL, "/"), client: client}
}

func (h *HTTPLink) route(cmd model.Command) (string, any) {
	motor := "/motor/" + strings.ToLower(string(cmd.Motor))
	switch cmd.Kind {
	case model.CmdStart:
		return motor + "/start", nil
	case model.CmdStop:
		return motor + "/stop", nil
	case model.CmdSetSpeed:
		return motor + "/speed", map[string]int{"speed": cmd.Speed}
	case model.CmdSetDirection:
		return motor + "/direction", map[string]model.Direction{"direction": cmd.Direction}
	default:
		return "/command", map[string]string{"command": string(cmd.Aux), "motor": string(cmd.Motor)}
	}
}

// Send posts cmd and maps the response onto the command outcome.
func (h *HTTPLink) Send(ctx context.Context, cmd model.Command) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	path, body := h.route(cmd)

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("[http] encode %s: %w", cmd, err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.base+path, &buf)
	if err != nil {
		return fmt.Errorf("[http] %s: %w", cmd, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("[http] %s: %w", cmd, model.ErrCommandTimeout)
		}
		return fmt.Errorf("[http] %s: %w: %w", cmd, model.ErrConnectionLost, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("[http] %s: %w: %s %s", cmd, model.ErrCommandRejected, resp.Status, strings.TrimSpace(string(msg)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
