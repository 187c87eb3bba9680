package commands

import (
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stagecraft/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and preview server",
	Long: `Run the HTTP server: the staging API under /api and the watermarked
preview pages under /preview.

Listens on server.listen from settings.yaml.

Examples:
  stagecraft serve
  stagecraft serve --listen 0.0.0.0:9000`,
	RunE: runServe,
}

var serveListen string

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Listen address (overrides settings.yaml)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := requireTokenSecret(); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	listen := a.settings.Server.Listen
	if serveListen != "" {
		listen = serveListen
	}

	srv := server.New(a.overlay, a.resolver, a.renderer, a.dispatcher, a.engine, a.filter)
	log.Infof("[Serve] listening on %s", listen)
	fmt.Printf("Stagecraft listening on http://%s\n", listen)
	return http.ListenAndServe(listen, srv)
}
