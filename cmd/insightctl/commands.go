package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"text/tabwriter"
	"time"

	insightdomain "github.com/smallbiznis/insightdesk/internal/insight/domain"
	"github.com/smallbiznis/insightdesk/internal/ratelimit"
	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var refresh bool

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate insight statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := opts.client()
			ctx := cmd.Context()

			if refresh {
				if err := client.Do(ctx, http.MethodPost, "/admin/insights/stats/refresh", nil, nil, nil); err != nil {
					return err
				}
			}

			var view insightdomain.StatsView
			if err := client.Do(ctx, http.MethodGet, "/admin/insights/stats", nil, nil, &view); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), view)
			}
			printStats(cmd.OutOrStdout(), view)
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "request a recomputation before reading")
	return cmd
}

func newListCmd(opts *rootOptions) *cobra.Command {
	var (
		search, service, risk, status, user string
		from, to, sortBy, sortOrder         string
		confMin, confMax                    string
		page, pageSize                      int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List insights matching a filter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			query := url.Values{}
			setIf(query, "search", search)
			setIf(query, "service", service)
			setIf(query, "risk_level", risk)
			setIf(query, "status", status)
			setIf(query, "user_id", user)
			setIf(query, "date_from", from)
			setIf(query, "date_to", to)
			setIf(query, "sort_by", sortBy)
			setIf(query, "sort_order", sortOrder)
			setIf(query, "confidence_min", confMin)
			setIf(query, "confidence_max", confMax)
			query.Set("page", strconv.Itoa(page))
			if cmd.Flags().Changed("page-size") {
				query.Set("page_size", strconv.Itoa(pageSize))
			}

			var result insightdomain.ResultPage
			if err := opts.client().Do(cmd.Context(), http.MethodGet, "/admin/insights", query, nil, &result); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), result)
			}
			printPage(cmd.OutOrStdout(), result)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&search, "search", "", "case-insensitive text search")
	flags.StringVar(&service, "service", "", "openrouter, prophet, chatbot or fallback")
	flags.StringVar(&risk, "risk", "", "high, medium, low or unknown")
	flags.StringVar(&status, "status", "", "active, expired or error")
	flags.StringVar(&user, "user", "", "owner user id")
	flags.StringVar(&from, "from", "", "generated at or after (RFC3339 or YYYY-MM-DD)")
	flags.StringVar(&to, "to", "", "generated at or before (RFC3339 or YYYY-MM-DD)")
	flags.StringVar(&confMin, "confidence-min", "", "minimum confidence in percent")
	flags.StringVar(&confMax, "confidence-max", "", "maximum confidence in percent")
	flags.StringVar(&sortBy, "sort", "", "sort field")
	flags.StringVar(&sortOrder, "order", "", "asc or desc")
	flags.IntVar(&page, "page", 1, "1-based page number")
	flags.IntVar(&pageSize, "page-size", 0, "page size; 0 returns only the count")
	return cmd
}

func newShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one insight and count the view",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp insightdomain.InsightResponse
			if err := opts.client().Do(cmd.Context(), http.MethodGet, "/admin/insights/"+url.PathEscape(args[0]), nil, nil, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printDetail(cmd.OutOrStdout(), resp)
			return nil
		},
	}
}

func newDeleteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an insight",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().Do(cmd.Context(), http.MethodDelete, "/admin/insights/"+url.PathEscape(args[0]), nil, nil, nil); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newRegenerateCmd(opts *rootOptions) *cobra.Command {
	var summary string

	cmd := &cobra.Command{
		Use:   "regenerate <id>",
		Short: "Renew an insight's lifetime",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var body any
			if cmd.Flags().Changed("summary") {
				body = insightdomain.RegenerateRequest{Summary: &summary}
			}

			var resp insightdomain.InsightResponse
			if err := opts.client().Do(cmd.Context(), http.MethodPost, "/admin/insights/"+url.PathEscape(args[0])+"/regenerate", nil, body, &resp); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), resp)
			}
			printDetail(cmd.OutOrStdout(), resp)
			return nil
		},
	}
	cmd.Flags().StringVar(&summary, "summary", "", "replacement summary text")
	return cmd
}

func newUsageCmd(opts *rootOptions) *cobra.Command {
	var reset bool

	cmd := &cobra.Command{
		Use:   "usage <user-id>",
		Short: "Show or reset a user's daily insight quota",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method, path := http.MethodGet, "/admin/usage/"+url.PathEscape(args[0])
			if reset {
				method, path = http.MethodPost, path+"/reset"
			}

			var usage ratelimit.Usage
			if err := opts.client().Do(cmd.Context(), method, path, nil, nil, &usage); err != nil {
				return err
			}
			if opts.json {
				return printJSON(cmd.OutOrStdout(), usage)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "user\t%s\n", usage.UserID)
			fmt.Fprintf(w, "used\t%d / %d\n", usage.Current, usage.Max)
			fmt.Fprintf(w, "remaining\t%d\n", usage.Remaining)
			fmt.Fprintf(w, "exceeded\t%t\n", usage.Exceeded)
			fmt.Fprintf(w, "resets at\t%s\n", usage.ResetAt.Format(time.RFC3339))
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear today's count")
	return cmd
}

func setIf(values url.Values, key, value string) {
	if value != "" {
		values.Set(key, value)
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printStats(out io.Writer, view insightdomain.StatsView) {
	s := view.Snapshot
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "generation\t%d\n", s.Generation)
	fmt.Fprintf(w, "computed at\t%s\n", s.ComputedAt.Format(time.RFC3339))
	if view.Stale {
		fmt.Fprintf(w, "stale\t%s\n", view.StaleReason)
	}
	fmt.Fprintf(w, "insights\t%d\n", s.TotalInsights)
	fmt.Fprintf(w, "users\t%d\n", s.TotalUsers)
	fmt.Fprintf(w, "risk\thigh=%d medium=%d low=%d unknown=%d\n",
		s.RiskDistribution.High, s.RiskDistribution.Medium, s.RiskDistribution.Low, s.RiskDistribution.Unknown)
	fmt.Fprintf(w, "services\topenrouter=%d prophet=%d chatbot=%d fallback=%d\n",
		s.ServiceUsage.OpenRouter, s.ServiceUsage.Prophet, s.ServiceUsage.Chatbot, s.ServiceUsage.Fallback)
	fmt.Fprintf(w, "status\tactive=%d expired=%d error=%d\n",
		s.StatusCounts.Active, s.StatusCounts.Expired, s.StatusCounts.Error)
	fmt.Fprintf(w, "avg confidence\t%.1f%%\n", s.AverageConfidence*100)
	fmt.Fprintf(w, "avg processing\t%.0f ms\n", s.AverageProcessingTimeMs)
	fmt.Fprintf(w, "tokens\t%d\n", s.TotalTokens)
	fmt.Fprintf(w, "success rate\t%.1f%%\n", s.SuccessRate*100)
	fmt.Fprintf(w, "today\t%d (%d rate limited)\n", s.TodayInsights, s.TodayRateLimited)
	_ = w.Flush()
}

func printPage(out io.Writer, page insightdomain.ResultPage) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tUSER\tSERVICE\tRISK\tCONF\tSTATUS\tGENERATED")
	for _, item := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.0f%%\t%s\t%s\n",
			item.ID, item.User.DisplayName, item.Service, item.RiskLevel,
			item.Confidence*100, item.Status, item.GeneratedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
	info := page.PageInfo
	fmt.Fprintf(out, "page %d/%d, %d total, generation %d\n", info.Page, info.TotalPages, info.Total, page.Generation)
}

func printDetail(out io.Writer, item insightdomain.InsightResponse) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", item.ID)
	fmt.Fprintf(w, "user\t%s (%s)\n", item.User.DisplayName, item.UserID)
	fmt.Fprintf(w, "service\t%s\n", item.Service)
	fmt.Fprintf(w, "risk\t%s\n", item.RiskLevel)
	fmt.Fprintf(w, "confidence\t%.0f%%\n", item.Confidence*100)
	fmt.Fprintf(w, "status\t%s (%s)\n", item.Status, item.ProcessingStatus)
	fmt.Fprintf(w, "generated\t%s\n", item.GeneratedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "expires\t%s\n", item.ExpiresAt.Format(time.RFC3339))
	fmt.Fprintf(w, "views\t%d\n", item.AccessCount)
	fmt.Fprintf(w, "summary\t%s\n", item.Summary)
	_ = w.Flush()
}
