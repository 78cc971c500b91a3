// -- cmd/crawl.go --
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/browserpilot/internal/actions"
	"github.com/xkilldash9x/browserpilot/internal/crawler"
	"github.com/xkilldash9x/browserpilot/internal/observability"
)

var (
	crawlMaxPages   int
	crawlSitemapOut string
)

var crawlCmd = &cobra.Command{
	Use:   "crawl <url>",
	Short: "Breadth-first same-origin discovery from a seed URL.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		seed := args[0]
		logger := observability.GetLogger()

		return withBrowser(cmd.Context(), func(ctx context.Context, exec *actions.Executor) error {
			c := crawler.New(exec, cfg.Crawler, logger)
			pages, err := c.Crawl(ctx, seed, crawlMaxPages)
			if err != nil {
				return err
			}

			for _, p := range pages {
				if p.Err != "" {
					fmt.Printf("%-60s  depth=%d  ERROR: %s\n", p.URL, p.Depth, p.Err)
					continue
				}
				fmt.Printf("%-60s  depth=%d  links=%d  %q\n", p.URL, p.Depth, len(p.Links), p.Title)
			}

			if crawlSitemapOut != "" {
				f, err := os.Create(crawlSitemapOut)
				if err != nil {
					return fmt.Errorf("creating sitemap file: %w", err)
				}
				defer f.Close()
				if err := c.GetSiteMap().WriteSitemapXML(f); err != nil {
					return err
				}
				logger.Info("Sitemap written", zap.String("path", crawlSitemapOut))
			}
			return nil
		})
	},
}

func init() {
	crawlCmd.Flags().IntVar(&crawlMaxPages, "max-pages", 0, "page budget (default from config)")
	crawlCmd.Flags().StringVar(&crawlSitemapOut, "sitemap-out", "", "write a sitemap.xml of visited pages")
	rootCmd.AddCommand(crawlCmd)
}
