package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/maltedev/yellowpages-scraper/internal/database"
	"github.com/maltedev/yellowpages-scraper/internal/models"
	"github.com/maltedev/yellowpages-scraper/internal/storage"
	"github.com/spf13/cobra"
)

var (
	searchPages  int
	searchOutput string
	searchFormat string
	searchStore  bool
)

func init() {
	searchCmd.Flags().IntVarP(&searchPages, "pages", "p", 1, "Number of result pages to fetch.")
	searchCmd.Flags().StringVarP(&searchOutput, "output", "o", "", "Also write results to a .json, .csv or .txt file.")
	searchCmd.Flags().StringVarP(&searchFormat, "format", "f", string(storage.FormatTable), "Stdout format: table, json or csv.")
	searchCmd.Flags().BoolVar(&searchStore, "store", false, "Persist the run to DATABASE_URL.")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <terms> <location>",
	Short: "Runs one search and prints the listings.",
	Example: `  yellowpages search chicken "Los Angeles, CA" --pages 2
  yellowpages search plumbers "Austin, TX" -o plumbers.csv`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		a, err := newApp()
		if err != nil {
			return err
		}

		if searchStore && !a.cfg.Database.Enabled() {
			return fmt.Errorf("--store requires DATABASE_URL")
		}

		s, err := a.newSearcher()
		if err != nil {
			return err
		}

		result, searchErr := s.Search(ctx, args[0], args[1], searchPages)
		if result == nil {
			return searchErr
		}
		if searchErr != nil {
			a.logger.Error("search stopped early", "error", searchErr, "pages_fetched", result.PagesFetched)
		}

		if err := storage.Write(os.Stdout, storage.Format(searchFormat), result); err != nil {
			return err
		}

		if searchOutput != "" {
			if err := storage.Save(searchOutput, result); err != nil {
				return err
			}
			a.logger.Info("results saved", "path", searchOutput, "listings", len(result.Listings))
		}

		if searchStore && searchErr == nil {
			if err := persist(cmd, a, result); err != nil {
				return err
			}
		}

		return searchErr
	},
}

func persist(cmd *cobra.Command, a *app, result *models.SearchResult) error {
	ctx := cmd.Context()
	db, err := database.New(ctx, database.Config{
		URL:      a.cfg.Database.URL,
		MaxConns: a.cfg.Database.MaxConns,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return err
	}

	start := time.Now()
	if err := db.SaveSearch(ctx, result); err != nil {
		return err
	}
	a.logger.Info("run stored", "run_id", result.RunID, "elapsed", time.Since(start))
	return nil
}
