package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"certhub/internal/app"
	"certhub/internal/assets"
	"certhub/internal/certification"
	"certhub/internal/idcard"
	"certhub/internal/records"
	"certhub/internal/render"
	"certhub/internal/results"
)

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), c.timeout)
}

func (c *cli) resultsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "results",
		Short: "Load every category result table and print row counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			catalog := results.DefaultCatalog(c.cfg.ResultsBaseURL)
			if c.cfg.CategoriesFile != "" {
				var err error
				if catalog, err = results.LoadCatalog(c.cfg.CategoriesFile, c.cfg.ResultsBaseURL); err != nil {
					return err
				}
			}
			snap := results.NewLoader(assets.New(c.cfg.AssetTimeout), nil, c.logger, nil).LoadAll(ctx, catalog)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCATEGORY\tROWS\tERROR")
			for _, s := range snap.Summaries() {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", s.ID, s.Name, s.Rows, s.Error)
			}
			fmt.Fprintf(w, "\t\t%d\t\n", snap.Total())
			return w.Flush()
		},
	}
}

func (c *cli) certificateCmd() *cobra.Command {
	var email, out string
	cmd := &cobra.Command{
		Use:   "certificate",
		Short: "Run the full certificate workflow for one participant and write the PDF",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			a, err := app.New(ctx, c.cfg, c.logger, prometheus.NewRegistry())
			if err != nil {
				return err
			}
			defer a.Close()

			art, err := a.Service.DownloadCertificate(ctx, email)
			if err != nil {
				return fmt.Errorf("%s (%s)", certification.UserMessage(err), certification.KindOf(err))
			}
			path, err := writeArtifact(out, art.Filename, art.Body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", art.CertificateID, path)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Registered email address (required)")
	cmd.Flags().StringVarP(&out, "out", "o", ".", "Output directory")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func (c *cli) lookupCmd() *cobra.Command {
	var id string
	cmd := &cobra.Command{
		Use:   "lookup",
		Short: "Show who holds a certificate id or verification URL",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			store, db, err := app.NewRecords(ctx, c.cfg, c.logger)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			if fromURL, ok := render.CertificateIDFromURL(id); ok {
				id = fromURL
			}
			rec, err := store.FetchByCertificateID(ctx, id)
			if err != nil {
				return fmt.Errorf("lookup %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\t%s\n", rec.CertificateID, render.TitleCase(rec.Name), rec.Team, rec.Role.Label())
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Certificate id or verification URL (required)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func (c *cli) renderCmd() *cobra.Command {
	var (
		in       render.CertificateInput
		date     string
		template string
		out      string
		coreFont bool
	)
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Render a certificate offline from flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			issued, err := parseDate(date)
			if err != nil {
				return err
			}
			in.IssuedAt = issued
			if template == "" {
				template = c.cfg.CertTemplate
			}
			opts := []render.Option{render.WithLogger(c.logger)}
			if coreFont {
				opts = append(opts, render.WithFonts(render.FontSet{}))
			}
			r := render.NewCertificateRenderer(assets.New(c.cfg.AssetTimeout), template, c.cfg.PublicHost, opts...)
			body, err := r.Render(ctx, in)
			if err != nil {
				return err
			}
			path, err := writeArtifact(out, render.DownloadFilename(render.TitleCase(in.Name), render.CertificateSuffix), body)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Participant name (required)")
	f.StringVar(&in.Team, "team", "", "Team name")
	f.StringVar(&in.CategoryID, "category", "", "Category id, e.g. TH03")
	f.StringVar(&in.CategoryName, "category-name", "", "Category name")
	f.StringVar(&in.CertificateID, "id", "", "Certificate id; omitted means no id caption and no QR code")
	f.StringVar(&date, "date", "", "Issue date YYYY-MM-DD (default today)")
	f.StringVar(&template, "template", "", "Template PDF/PNG path or URL (default CERT_TEMPLATE)")
	f.BoolVar(&coreFont, "core-font", false, "Use the PDF core Helvetica faces instead of embedding Go fonts")
	f.StringVarP(&out, "out", "o", ".", "Output directory")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) cardCmd() *cobra.Command {
	var (
		in       idcard.CardInput
		role     string
		photo    string
		template string
		out      string
		asPDF    bool
	)
	cmd := &cobra.Command{
		Use:   "card",
		Short: "Compose an ID card offline from flags",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := c.context(cmd)
			defer cancel()

			fetcher := assets.New(c.cfg.AssetTimeout)
			var err error
			if in.Photo, err = fetcher.Fetch(ctx, photo); err != nil {
				return fmt.Errorf("photo: %w", err)
			}
			in.Role = records.ParseRole(role)
			in.IssuedAt = time.Now()

			templates := idcard.TemplatesFromConfig(c.cfg.CardTemplates)
			if template != "" {
				templates[in.Role] = template
				templates[records.RoleMentor] = template
			}
			composer, err := idcard.NewComposer(fetcher, templates, nil, idcard.WithLogger(c.logger))
			if err != nil {
				return err
			}

			var body []byte
			suffix := render.CardPNGSuffix
			if asPDF {
				body, err = composer.ComposePDF(ctx, in)
				suffix = render.CardPDFSuffix
			} else {
				body, err = composer.Compose(ctx, in)
			}
			if err != nil {
				return err
			}
			path, err := writeArtifact(out, render.DownloadFilename(in.Name, suffix), body)
			if err != nil {
				return err
			}
			c.logger.Debug("card written", zap.String("template", composer.TemplateFor(in.Role)), zap.String("path", path))
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Name printed on the card (required)")
	f.StringVar(&in.Team, "team", "", "Team name")
	f.StringVar(&in.TeamPosition, "position", "", "Team position, e.g. Leader")
	f.StringVar(&role, "role", "participant", "mentor, coordinator, volunteer or participant")
	f.StringVar(&photo, "photo", "", "Photo path or URL (required)")
	f.StringVar(&template, "template", "", "Card template path or URL (default from CARD_TEMPLATE_*)")
	f.BoolVar(&asPDF, "pdf", false, "Write a print-size PDF instead of a PNG")
	f.StringVarP(&out, "out", "o", ".", "Output directory")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("photo")
	return cmd
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		y, m, d := time.Now().UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--date: %w", err)
	}
	return t, nil
}

func writeArtifact(dir, name string, body []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}
