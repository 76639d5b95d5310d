package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/farm-fe/farm-sub000/internal/compiler"
	"github.com/farm-fe/farm-sub000/internal/logger"
	"github.com/farm-fe/farm-sub000/internal/metrics"
	"github.com/farm-fe/farm-sub000/internal/server"
)

var devCmd = &cobra.Command{
	Use:   "dev",
	Short: "Serve the project from memory and push updates as files change",
	Args:  cobra.NoArgs,
	RunE:  runDev,
}

func runDev(cmd *cobra.Command, _ []string) error {
	options, err := loadOptions(cmd)
	if err != nil {
		return err
	}
	z, err := newZap()
	if err != nil {
		return err
	}
	defer z.Sync()
	log := logger.NewZapLog(newLog(), z)

	o := compiler.Options{
		Log:     log,
		Zap:     z,
		Metrics: metrics.New(),
	}
	if options.Server.HmrPath != "" {
		o.HtmlInlineScript = server.ClientScript(options.Server.HmrPath)
	}
	c, err := compiler.New(options, o)
	if err != nil {
		return err
	}
	if _, err := c.Compile(cmd.Context()); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := net.JoinHostPort(options.Server.Host, strconv.Itoa(options.Server.Port))
	fmt.Fprintf(os.Stdout, "%s http://%s%s\n",
		color.New(color.FgGreen, color.Bold).Sprint("serving"), addr, options.Output.PublicPath)

	s := server.New(c, server.Options{Zap: z.Named("server"), Metrics: o.Metrics, Watch: true})
	return s.Run(ctx)
}
