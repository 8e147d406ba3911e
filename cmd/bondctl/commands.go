package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/alanyoungcy/bondvault/internal/client"
	"github.com/alanyoungcy/bondvault/internal/crypto"
	"github.com/alanyoungcy/bondvault/internal/domain"
)

// globalOpts are the persistent flags shared by every command.
type globalOpts struct {
	server   string
	apiKey   string
	key      string
	keyFile  string
	password string
	limit    int
	offset   int
}

func newRootCmd() *cobra.Command {
	g := &globalOpts{}
	root := &cobra.Command{
		Use:           "bondctl",
		Short:         "Issue, buy and redeem tokenized bonds on a bondvault server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.server, "server", envOr("BONDCTL_SERVER", "http://localhost:8080"), "bondvault server URL")
	pf.StringVar(&g.apiKey, "api-key", os.Getenv("BONDCTL_API_KEY"), "static API key, if the server requires one")
	pf.StringVar(&g.key, "key", os.Getenv("BONDCTL_PRIVATE_KEY"), "hex private key used to sign requests")
	pf.StringVar(&g.keyFile, "key-file", os.Getenv("BONDCTL_KEY_FILE"), "encrypted key file (see keygen)")
	pf.StringVar(&g.password, "password", os.Getenv("BONDCTL_KEY_PASSWORD"), "password for --key-file")
	pf.IntVar(&g.limit, "limit", 0, "maximum items for list commands")
	pf.IntVar(&g.offset, "offset", 0, "items to skip for list commands")

	root.AddCommand(newKeygenCmd(g), newProjectCmd(g), newClaimCmd(g), newArchivesCmd(g), newHealthCmd(g))
	return root
}

// client builds an API client. Signing is attached only when a key is
// configured; read-only commands work without one.
func (g *globalOpts) client() (*client.Client, error) {
	opts := []client.Option{client.WithAPIKey(g.apiKey)}
	if g.key != "" || g.keyFile != "" {
		s, err := crypto.LoadSigner(crypto.KeyConfig{
			RawPrivateKey:    g.key,
			EncryptedKeyPath: g.keyFile,
			KeyPassword:      g.password,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, client.WithSigner(s))
	}
	return client.New(g.server, opts...), nil
}

func (g *globalOpts) listOpts() domain.ListOpts {
	return domain.ListOpts{Limit: g.limit, Offset: g.offset}
}

func newKeygenCmd(g *globalOpts) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key and write it as an encrypted key file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if g.password == "" {
				return fmt.Errorf("keygen: --password (or BONDCTL_KEY_PASSWORD) is required")
			}
			s, err := crypto.GenerateSigner()
			if err != nil {
				return err
			}
			data, err := crypto.EncryptKey(s, g.password)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, data, 0o600); err != nil {
				return fmt.Errorf("keygen: write %s: %w", out, err)
			}
			return printJSON(cmd, map[string]string{"address": s.Address().Hex(), "key_file": out})
		},
	}
	cmd.Flags().StringVar(&out, "out", "bondvault.key", "path of the key file to create")
	return cmd
}

func newProjectCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "project",
		Short: "Create, inspect and manage bond projects",
	}

	var req client.CreateProjectRequest
	var total, maturity string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a project issued by the signing key",
		RunE: func(cmd *cobra.Command, _ []string) error {
			amt, err := parseAmount(total)
			if err != nil {
				return err
			}
			req.TotalAmount = amt
			if req.MaturityDate, err = parseMaturity(maturity); err != nil {
				return err
			}
			return call(cmd, g, func(c *client.Client) (any, error) {
				return c.CreateProject(cmd.Context(), req)
			})
		},
	}
	create.Flags().StringVar(&req.Name, "name", "", "project name")
	create.Flags().StringVar(&req.Description, "description", "", "free-form description")
	create.Flags().StringVar(&req.MetadataURI, "metadata-uri", "", "URI of off-chain metadata")
	create.Flags().StringVar(&total, "total", "", "total units offered")
	create.Flags().Uint32Var(&req.AnnualRateBps, "rate-bps", 0, "annual simple interest in basis points")
	create.Flags().StringVar(&maturity, "maturity", "", "maturity date (RFC 3339 or YYYY-MM-DD)")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("total")
	_ = create.MarkFlagRequired("maturity")

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, g, func(c *client.Client) (any, error) {
				return c.ListProjects(cmd.Context(), g.listOpts())
			})
		},
	}

	cmd.AddCommand(create, list,
		projectRead(g, "get", "Show a project", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.GetProject(cmd.Context(), id)
		}),
		projectRead(g, "summary", "Show capacity, progress and redemption status", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.Summary(cmd.Context(), id)
		}),
		projectRead(g, "claims", "List the claims of a project", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.ProjectClaims(cmd.Context(), id, g.listOpts())
		}),
		projectRead(g, "events", "List the event log of a project", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.Events(cmd.Context(), id, g.listOpts())
		}),
		projectRead(g, "pause", "Stop sales (issuer only)", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.Pause(cmd.Context(), id)
		}),
		projectRead(g, "resume", "Reopen sales (issuer only)", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.Resume(cmd.Context(), id)
		}),
		projectAmount(g, "purchase", "Buy units and receive a claim", func(c *client.Client, cmd *cobra.Command, id string, amt uint64) (any, error) {
			return c.Purchase(cmd.Context(), id, amt)
		}),
		projectAmount(g, "deposit", "Fund the redemption pool (issuer only)", func(c *client.Client, cmd *cobra.Command, id string, amt uint64) (any, error) {
			return c.Deposit(cmd.Context(), id, amt)
		}),
		projectAmount(g, "withdraw", "Withdraw raised funds (issuer only)", func(c *client.Client, cmd *cobra.Command, id string, amt uint64) (any, error) {
			return c.Withdraw(cmd.Context(), id, amt)
		}),
	)
	return cmd
}

func projectRead(g *globalOpts, use, short string, fn func(*client.Client, *cobra.Command, string) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, g, func(c *client.Client) (any, error) {
				return fn(c, cmd, args[0])
			})
		},
	}
}

func projectAmount(g *globalOpts, use, short string, fn func(*client.Client, *cobra.Command, string, uint64) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <project-id> <amount>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			return call(cmd, g, func(c *client.Client) (any, error) {
				return fn(c, cmd, args[0], amt)
			})
		},
	}
}

func newClaimCmd(g *globalOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "claim",
		Short: "Inspect and redeem claims",
	}
	byID := func(use, short string, fn func(*client.Client, *cobra.Command, string) (any, error)) *cobra.Command {
		return &cobra.Command{
			Use:   use + " <claim-id>",
			Short: short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return call(cmd, g, func(c *client.Client) (any, error) {
					return fn(c, cmd, args[0])
				})
			},
		}
	}
	list := &cobra.Command{
		Use:   "list [owner-address]",
		Short: "List claims held by an address (defaults to the signing key)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, g, func(c *client.Client) (any, error) {
				owner := c.Address()
				if len(args) == 1 {
					a, err := domain.ParseAddress(args[0])
					if err != nil {
						return nil, err
					}
					owner = a
				}
				if domain.IsZeroAddress(owner) {
					return nil, fmt.Errorf("claim list: pass an address or configure a key")
				}
				return c.OwnerClaims(cmd.Context(), owner, g.listOpts())
			})
		},
	}
	cmd.AddCommand(list,
		byID("get", "Show a claim", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.GetClaim(cmd.Context(), id)
		}),
		byID("preview", "Project the payout of a claim as of now", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.Preview(cmd.Context(), id)
		}),
		byID("redeem", "Redeem a matured claim held by the signing key", func(c *client.Client, cmd *cobra.Command, id string) (any, error) {
			return c.Redeem(cmd.Context(), id)
		}),
	)
	return cmd
}

func newArchivesCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "archives",
		Short: "List the monthly event archives",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, g, func(c *client.Client) (any, error) {
				return c.Archives(cmd.Context())
			})
		},
	}
}

func newHealthCmd(g *globalOpts) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show server health",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return call(cmd, g, func(c *client.Client) (any, error) {
				return c.Health(cmd.Context())
			})
		},
	}
}

func call(cmd *cobra.Command, g *globalOpts, fn func(*client.Client) (any, error)) error {
	c, err := g.client()
	if err != nil {
		return err
	}
	v, err := fn(c)
	if err != nil {
		return err
	}
	return printJSON(cmd, v)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount %q must be a non-negative integer", s)
	}
	return n, nil
}

func parseMaturity(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("maturity %q must be RFC 3339 or YYYY-MM-DD", s)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
