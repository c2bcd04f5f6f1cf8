package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/orchestra-mcp/relay/src/command"
	"github.com/spf13/cobra"
	"github.com/valyala/fasthttp"
)

var (
	adminServer  string
	adminToken   string
	adminTimeout time.Duration

	onlineWithin time.Duration

	sendTarget  string
	sendPayload string
)

var AdminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Talk to a running relay as an admin",
}

var OnlineCmd = &cobra.Command{
	Use:   "online",
	Short: "List registered dashboards",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/admin/online"
		if onlineWithin > 0 {
			path += "?within=" + onlineWithin.String()
		}
		body, err := adminRequest(fasthttp.MethodGet, path, nil)
		if err != nil {
			return err
		}

		var online []struct {
			ClientID   string    `json:"clientId"`
			LastSeenAt time.Time `json:"lastSeenAt"`
		}
		if err := json.Unmarshal(body, &online); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, p := range online {
			fmt.Fprintf(out, "%s\t%s\n", p.ClientID, p.LastSeenAt.Format(time.RFC3339))
		}
		fmt.Fprintf(out, "%d online\n", len(online))
		return nil
	},
}

var SendCmd = &cobra.Command{
	Use:   "send <command>",
	Short: "Send a command to one dashboard, or to ALL",
	Long:  "Send a command to one dashboard, or to ALL.\n\nCommands: " + commandList(),
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := map[string]any{
			"targetClientId": sendTarget,
			"command":        args[0],
		}
		if sendPayload != "" {
			var payload map[string]any
			if err := json.Unmarshal([]byte(sendPayload), &payload); err != nil {
				return fmt.Errorf("payload must be a JSON object: %w", err)
			}
			req["payload"] = payload
		}
		if _, err := command.Decode(args[0], asMap(req["payload"])); err != nil {
			return err
		}

		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body, err := adminRequest(fasthttp.MethodPost, "/admin/command", data)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(body)))
		return nil
	},
}

func init() {
	AdminCmd.PersistentFlags().StringVarP(&adminServer, "server", "s", GetEnv("RELAY_SERVER", "http://localhost:8080"), "relay base URL [env: RELAY_SERVER]")
	AdminCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", GetEnv("RELAY_TOKEN", ""), "admin token [env: RELAY_TOKEN]")
	AdminCmd.PersistentFlags().DurationVar(&adminTimeout, "timeout", 10*time.Second, "request timeout")

	OnlineCmd.Flags().DurationVar(&onlineWithin, "within", 0, "only dashboards seen within this duration")

	SendCmd.Flags().StringVar(&sendTarget, "target", "", "target clientId, or ALL")
	SendCmd.Flags().StringVarP(&sendPayload, "payload", "p", "", "command payload as a JSON object")
	_ = SendCmd.MarkFlagRequired("target")

	AdminCmd.AddCommand(OnlineCmd, SendCmd)
	RootCmd.AddCommand(AdminCmd)
}

func adminRequest(method, path string, body []byte) ([]byte, error) {
	if adminToken == "" {
		return nil, errors.New("an admin token is required (--token or RELAY_TOKEN)")
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(strings.TrimRight(adminServer, "/") + path)
	req.Header.SetMethod(method)
	req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+adminToken)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	if err := fasthttp.DoTimeout(req, resp, adminTimeout); err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	out := append([]byte(nil), resp.Body()...)
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("%s %s: status %d: %s", method, path, code, strings.TrimSpace(string(out)))
	}
	return out, nil
}

func commandList() string {
	names := command.Names()
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = string(n)
	}
	return strings.Join(out, ", ")
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}
