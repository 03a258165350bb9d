// Command grantctl is a small OAuth2 client for exercising a grantd server:
// it runs the device flow, prints authorize URLs and exchanges codes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-print"
	"golang.org/x/oauth2"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "grantctl: %v\n", err)
		os.Exit(1)
	}
}

type clientFlags struct {
	base         string
	clientID     string
	clientSecret string
	redirectURI  string
	scope        string
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.base, "server", "http://localhost:8080/oauth2", "grantd OAuth2 base URL")
	fs.StringVar(&f.clientID, "client-id", "", "OAuth client id")
	fs.StringVar(&f.clientSecret, "client-secret", "", "OAuth client secret")
	fs.StringVar(&f.redirectURI, "redirect-uri", "", "registered redirect uri")
	fs.StringVar(&f.scope, "scope", "", "space separated scopes")
}

func (f *clientFlags) oauth2Config() *oauth2.Config {
	base := strings.TrimRight(f.base, "/")
	return &oauth2.Config{
		ClientID:     f.clientID,
		ClientSecret: f.clientSecret,
		RedirectURL:  f.redirectURI,
		Scopes:       strings.Fields(f.scope),
		Endpoint: oauth2.Endpoint{
			AuthURL:       base + "/authorize",
			DeviceAuthURL: base + "/device_authorize",
			TokenURL:      base + "/token",
			AuthStyle:     oauth2.AuthStyleInParams,
		},
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("usage: grantctl <device|authorize|exchange> [flags]")
	}

	var flags clientFlags
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(out)
	flags.register(fs)

	state := fs.String("state", "", "authorize state value")
	code := fs.String("code", "", "authorization code to exchange")

	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if flags.clientID == "" {
		return errors.New("-client-id is required")
	}

	conf := flags.oauth2Config()

	switch args[0] {
	case "device":
		return runDevice(ctx, conf, out)
	case "authorize":
		fmt.Fprintln(out, conf.AuthCodeURL(*state))
		return nil
	case "exchange":
		if *code == "" {
			return errors.New("-code is required")
		}
		token, err := conf.Exchange(ctx, *code)
		if err != nil {
			return err
		}
		return printToken(out, token)
	}
	return fmt.Errorf("unknown command %q", args[0])
}

func runDevice(ctx context.Context, conf *oauth2.Config, out io.Writer) error {
	auth, err := conf.DeviceAuth(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Visit %s and enter code %s\n", auth.VerificationURI, auth.UserCode)
	if auth.VerificationURIComplete != "" {
		fmt.Fprintf(out, "or open %s\n", auth.VerificationURIComplete)
	}

	token, err := conf.DeviceAccessToken(ctx, auth)
	if err != nil {
		return err
	}
	return printToken(out, token)
}

func printToken(out io.Writer, token *oauth2.Token) error {
	fmt.Fprintf(out, "access_token: %s\n", token.AccessToken)
	if scope, ok := token.Extra("scope").(string); ok && scope != "" {
		fmt.Fprintf(out, "scope: %s\n", scope)
	}

	// unverified: grantctl only shows what the server minted
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token.AccessToken, claims); err != nil {
		return nil
	}
	fmt.Fprintf(out, "claims: %v\n", print.MaybePrettyJSON(claims))
	return nil
}
