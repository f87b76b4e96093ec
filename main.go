package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"krishimitra/internal/assistant"
	"krishimitra/internal/auth"
	"krishimitra/internal/cache"
	"krishimitra/internal/config"
	"krishimitra/internal/gemini"
	"krishimitra/internal/httpx"
	"krishimitra/internal/server"
	"krishimitra/internal/store"
	"krishimitra/internal/weather"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var cfgPath string

	rootCmd := &cobra.Command{
		Use:          "krishimitra",
		Short:        "Farmer portal API with Gemini helpers and weather",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.json", "Path to config file")

	// check command: validate config and report
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Validate configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := loadConfig(cfgPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config OK")
			return nil
		},
	}

	// models command: show the live listing and what the selector would pick
	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List generative models and the current selection",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := gemini.NewClient(ctx, cfg)
			if err != nil {
				return err
			}
			dir := gemini.NewSDKDirectory(client, cfg.DirectoryRetryCount(), time.Duration(cfg.RequestBaseDelay)*time.Millisecond)
			out := cmd.OutOrStdout()
			listing, err := dir.ListGenerativeModels(ctx)
			if err != nil {
				fmt.Fprintf(out, "listing failed: %v\n", err)
			}
			for _, id := range listing {
				fmt.Fprintln(out, id)
			}
			sel := gemini.NewSelector(dir, cfg.ModelPriority, cfg.DefaultModel).Select(ctx)
			fmt.Fprintf(out, "selected: %s (rule %s)\n", sel.Model, sel.Rule)
			return nil
		},
	}

	// server command: validate config then start server
	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cfgPath)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	rootCmd.AddCommand(serverCmd, checkCmd, modelsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatalf("%v", err)
	}
}

func loadConfig(path string) (config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return cfg, err
	}
	if err := cfg.Validate(path); err != nil {
		return cfg, err
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}
	return cfg, nil
}

func runServer(ctx context.Context, cfg config.Config) error {
	proxyURL, err := cfg.ProxyURL()
	if err != nil {
		return err
	}
	if proxyURL != nil {
		logrus.Infof("using upstream proxy: %s", proxyURL.Redacted())
		go checkProxy(proxyURL)
	}

	client, err := gemini.NewClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to init AI client: %w", err)
	}
	dir := gemini.NewSDKDirectory(client, cfg.DirectoryRetryCount(), time.Duration(cfg.RequestBaseDelay)*time.Millisecond)
	shared := sharedCache(ctx, cfg)
	var opts []gemini.SelectorOption
	if cfg.ModelCacheTTL() > 0 {
		opts = append(opts, gemini.WithCache(shared, cfg.ModelCacheTTL()))
	}
	selector := gemini.NewSelector(dir, cfg.ModelPriority, cfg.DefaultModel, opts...)
	ai := assistant.New(selector, gemini.NewSDKGenerator(client), cfg.AITimeout())

	wx := weather.NewClient(cfg, httpx.NewHTTPClient(proxyURL, cfg.WeatherTimeout()))

	st, err := store.Open(cfg.SQLitePath)
	if err != nil {
		return err
	}
	defer st.Close()

	sessions, err := auth.NewSessionManager(cfg.SessionSecret, cfg.SessionTTL())
	if err != nil {
		return err
	}

	srv := server.New(cfg, server.Deps{
		Store:     st,
		Assistant: ai,
		Weather:   wx,
		Selector:  selector,
		Sessions:  sessions,
		Revoked:   shared,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.AITimeout() + time.Minute,
		IdleTimeout:       120 * time.Second,
		ErrorLog:          log.New(logrus.StandardLogger().WriterLevel(logrus.ErrorLevel), "http: ", 0),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logrus.Infof("krishimitra listening on http://%s", addr)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// sharedCache returns Redis when configured and reachable, else an
// in-process cache. It holds revoked sessions and, when a TTL is set, the
// model selection.
func sharedCache(ctx context.Context, cfg config.Config) cache.Cache {
	if cfg.RedisURL != "" {
		rc := cache.NewRedisClient(cfg.RedisURL)
		if err := cache.Ping(ctx, rc); err != nil {
			logrus.Warnf("redis unavailable, using in-process cache: %v", err)
			_ = rc.Close()
		} else {
			logrus.Info("shared cache: redis")
			return cache.NewRedis(rc, "krishimitra:")
		}
	}
	logrus.Info("shared cache: memory")
	return cache.NewMemory()
}

// checkProxy is a best-effort TCP liveness probe for the upstream proxy.
func checkProxy(u *url.URL) {
	host := u.Host
	// Ensure port; if missing, default based on scheme
	if _, _, err := net.SplitHostPort(host); err != nil {
		switch u.Scheme {
		case "http":
			host = net.JoinHostPort(host, "80")
		case "socks5":
			host = net.JoinHostPort(host, "1080")
		}
	}
	conn, err := net.DialTimeout("tcp", host, 5*time.Second)
	if err != nil {
		logrus.Warnf("proxy tcp check failed: %v", err)
		return
	}
	_ = conn.Close()
	logrus.Info("tcp check for proxy is successful")
}
