package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/b4fun/oidcroles"
	"github.com/b4fun/oidcroles/internal/webapp"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/go-uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type serveOptions struct {
	listenAddr     string
	issuerURL      string
	clientID       string
	clientSecret   string
	redirectURL    string
	caFile         string
	sessionKey     string
	scopes         []string
	extraRolePaths []string
	fetchUserInfo  bool
	secureCookies  bool
	logLevel       string
}

func (o *serveOptions) bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.listenAddr, "listen", ":8080", "address to listen on")
	fs.StringVar(&o.issuerURL, "issuer-url", "", "OIDC issuer URL (env OIDC_ISSUER)")
	fs.StringVar(&o.clientID, "client-id", "", "OIDC client ID (env OIDC_CLIENT_ID)")
	fs.StringVar(&o.clientSecret, "client-secret", "", "OIDC client secret (env OIDC_CLIENT_SECRET)")
	fs.StringVar(&o.redirectURL, "redirect-url", "", "login callback URL (env OIDC_REDIRECT_URL), defaults to http://localhost<listen>/login/callback")
	fs.StringVar(&o.caFile, "ca-file", "", "CA bundle of the identity provider (env OIDC_CA_FILE)")
	fs.StringVar(&o.sessionKey, "session-key", "", "key signing the session cookie, at least 32 bytes (env OIDC_SESSION_KEY), random when empty")
	fs.StringSliceVar(&o.scopes, "scopes", nil, "scopes requested at login")
	fs.StringSliceVar(&o.extraRolePaths, "extra-role-path", nil, "JMESPath expression selecting more roles from the claims")
	fs.BoolVar(&o.fetchUserInfo, "fetch-userinfo", false, "merge userinfo claims at login")
	fs.BoolVar(&o.secureCookies, "secure-cookies", false, "set the Secure attribute on cookies")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
}

// fromEnv fills unset options from the environment.
func (o *serveOptions) fromEnv() {
	for target, env := range map[*string]string{
		&o.issuerURL:    "OIDC_ISSUER",
		&o.clientID:     "OIDC_CLIENT_ID",
		&o.clientSecret: "OIDC_CLIENT_SECRET",
		&o.redirectURL:  "OIDC_REDIRECT_URL",
		&o.caFile:       "OIDC_CA_FILE",
		&o.sessionKey:   "OIDC_SESSION_KEY",
	} {
		if *target == "" {
			*target = os.Getenv(env)
		}
	}
}

func (o *serveOptions) validate() error {
	if o.issuerURL == "" {
		return fmt.Errorf("--issuer-url is required")
	}
	if o.clientID == "" {
		return fmt.Errorf("--client-id is required")
	}
	if o.sessionKey != "" && len(o.sessionKey) < oidcroles.MinSessionKeySize {
		return fmt.Errorf("--session-key must be at least %d bytes", oidcroles.MinSessionKeySize)
	}
	if o.redirectURL == "" {
		host := o.listenAddr
		if strings.HasPrefix(host, ":") {
			host = "localhost" + host
		}
		o.redirectURL = "http://" + host + "/login/callback"
	}
	return nil
}

func (o *serveOptions) params(logger hclog.Logger) oidcroles.Params {
	return oidcroles.Params{
		IssuerURL:        o.issuerURL,
		ClientID:         o.clientID,
		CAFile:           o.caFile,
		UserInfoFallback: true,
		Logger:           logger,
	}
}

func newServeCmd() *cobra.Command {
	o := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the example application behind OIDC login",
		RunE: func(cmd *cobra.Command, args []string) error {
			o.fromEnv()
			if err := o.validate(); err != nil {
				return err
			}
			return serve(cmd.Context(), o)
		},
	}
	o.bindFlags(cmd.Flags())

	return cmd
}

func serve(ctx context.Context, o *serveOptions) error {
	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "oidcroles-example",
		Level: hclog.LevelFromString(o.logLevel),
	})

	params := o.params(logger)

	// one mapper serves both the login callback and the per-request loader
	mapper, err := oidcroles.NewRealmRoleMapper(oidcroles.MapperParams{
		Logger:         logger,
		ExtraRolePaths: o.extraRolePaths,
	})
	if err != nil {
		return err
	}
	params.Mapper = mapper

	if o.sessionKey != "" {
		params.SessionKey = []byte(o.sessionKey)
	} else {
		logger.Warn("no session key configured, sessions end with this process")
		params.SessionKey, err = uuid.GenerateRandomBytes(oidcroles.MinSessionKeySize)
		if err != nil {
			return fmt.Errorf("generate session key: %w", err)
		}
	}

	login, err := oidcroles.NewLogin(ctx, oidcroles.LoginParams{
		Params:        params,
		ClientSecret:  o.clientSecret,
		RedirectURL:   o.redirectURL,
		Scopes:        o.scopes,
		FetchUserInfo: o.fetchUserInfo,
		SecureCookies: o.secureCookies,
	})
	if err != nil {
		return err
	}

	router := webapp.NewRouter(webapp.Params{
		Login:     login,
		Intercept: oidcroles.InterceptHTTP(oidcroles.HTTPParams{Params: params}),
		Logger:    logger,
	})

	server := &http.Server{
		Addr:              o.listenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", o.listenAddr, "issuer", o.issuerURL)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return server.Shutdown(shutdownCtx)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := &cobra.Command{
		Use:          "oidcroles-example",
		Short:        "Example application mapping realm roles to authorities",
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd())

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
