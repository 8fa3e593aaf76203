package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newSessionCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "session", Short: "Inspect payment sessions"}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <session-id>",
		Short: "Show a session with its fulfillment job and notification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			return o.do(c.R().SetContext(cmd.Context()).SetPathParam("id", args[0]), http.MethodGet, "/admin/sessions/{id}")
		},
	})
	return cmd
}

func newFulfillmentsCmd(o *options) *cobra.Command {
	cmd := &cobra.Command{Use: "fulfillments", Short: "Manage access grants"}

	var states []string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List fulfillment jobs (failed and exhausted by default)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			req := c.R().SetContext(cmd.Context()).SetQueryParam("limit", strconv.Itoa(limit))
			if len(states) > 0 {
				req.SetQueryParam("state", strings.Join(states, ","))
			}
			return o.do(req, http.MethodGet, "/admin/fulfillments")
		},
	}
	list.Flags().StringSliceVar(&states, "state", nil, "job states: pending,in_progress,completed,failed,exhausted")
	list.Flags().IntVar(&limit, "limit", 50, "max rows")

	retry := &cobra.Command{
		Use:   "retry <session-id>",
		Short: "Re-arm a failed or exhausted grant and attempt it now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.client()
			if err != nil {
				return err
			}
			return o.do(c.R().SetContext(cmd.Context()).SetPathParam("id", args[0]), http.MethodPost, "/admin/sessions/{id}/fulfillment/retry")
		},
	}

	cmd.AddCommand(list, retry)
	return cmd
}

func newReplayCmd(o *options) *cobra.Command {
	var file, kind string
	var headers []string
	cmd := &cobra.Command{
		Use:   "replay <provider>",
		Short: "Push a captured notification body through the ingestion pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			c, err := o.client()
			if err != nil {
				return err
			}
			req := c.R().SetContext(cmd.Context()).
				SetPathParam("provider", args[0]).
				SetQueryParam("kind", kind).
				SetHeader("Content-Type", "application/json").
				SetBody(body)
			for _, h := range headers {
				k, v, ok := strings.Cut(h, ":")
				if !ok {
					return fmt.Errorf("bad header %q, want Name: value", h)
				}
				req.SetHeader(strings.TrimSpace(k), strings.TrimSpace(v))
			}
			return o.do(req, http.MethodPost, "/admin/notifications/{provider}/replay")
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "raw notification body")
	cmd.Flags().StringVar(&kind, "kind", "webhook", "webhook or callback")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "header to forward, e.g. 'X-Kashier-Signature: ...'")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
