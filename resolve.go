package main

import (
	"fmt"
	"slices"

	"github.com/samber/lo"
	"github.com/urfave/cli/v2"

	"github.com/john/multichat/internal/kick"
)

func resolveKickCmd() *cli.Command {
	return &cli.Command{
		Name:      "resolve-kick",
		Usage:     "Look up Kick chatroom ids so startup needs no API call",
		ArgsUsage: "<channel> [channel...]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:   "api-url",
				Value:  kick.DefaultAPIURL,
				Hidden: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() == 0 {
				return cli.ShowSubcommandHelp(c)
			}
			resolver := kick.NewResolver()
			resolver.BaseURL = c.String("api-url")
			return resolveKick(c, resolver, c.Args().Slice())
		},
	}
}

func resolveKick(c *cli.Context, resolver *kick.Resolver, channels []string) error {
	out := c.App.Writer
	fmt.Fprintf(out, "Resolving %d Kick channel(s)...\n\n", len(channels))

	results := make(map[string]int)
	failures := make(map[string]string)
	for _, channel := range channels {
		id, err := resolver.Resolve(c.Context, channel)
		if err != nil {
			failures[channel] = err.Error()
			continue
		}
		results[channel] = id
	}

	if len(results) > 0 {
		fmt.Fprintln(out, "Resolved:")
		for _, slug := range sortedKeys(results) {
			fmt.Fprintf(out, "  %s: %d\n", slug, results[slug])
		}
		fmt.Fprintln(out)
	}

	if len(failures) > 0 {
		fmt.Fprintln(out, "Failed to resolve:")
		for _, slug := range sortedKeys(failures) {
			fmt.Fprintf(out, "  %s: %s\n", slug, failures[slug])
		}
		fmt.Fprintln(out)
	}

	if len(results) > 0 {
		// One chatroom per process; print a snippet for each so the operator can pick
		fmt.Fprintln(out, "Add this to your config.yaml:")
		for _, slug := range sortedKeys(results) {
			fmt.Fprintln(out, "---")
			fmt.Fprintln(out, "kick:")
			fmt.Fprintf(out, "  channel_name: %s\n", slug)
			fmt.Fprintf(out, "  chatroom_id: %d\n", results[slug])
		}
	}

	if len(results) == 0 {
		return cli.Exit("no channels resolved", 1)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
