package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/otherjamesbrown/meetmem/credentials"
)

// NewAuthCommand creates the 'auth' command group.
func NewAuthCommand(deps *Deps) *cobra.Command {
	if deps == nil {
		deps = DefaultDeps()
	}

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage API credentials",
		Long: `Manage the credentials meetmem hands to its collaborators.

Providers:
  openai       API key for analysis, embeddings and summaries (OPENAI_API_KEY)
  huggingface  Token for WhisperX speaker diarization (HUGGINGFACE_TOKEN)

Secrets are stored encrypted in ~/.meetmem/credentials.yaml. The key lives
in the system keyring, or comes from MEETMEM_ENCRYPTION_KEY or
MEETMEM_PASSPHRASE on hosts without one. Environment variables always take
precedence over stored secrets.`,
	}

	cmd.AddCommand(newAuthSetCommand(deps))
	cmd.AddCommand(newAuthDeleteCommand(deps))
	cmd.AddCommand(newAuthListCommand(deps))
	return cmd
}

func newAuthSetCommand(deps *Deps) *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a secret for a provider",
		Long: `Store a secret for a provider.

The secret is read from --value, from standard input when it is not a
terminal, or from a hidden prompt.

Examples:
  meetmem auth set openai
  echo "$TOKEN" | meetmem auth set huggingface`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: credentials.Providers(),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider := args[0]
			if err := credentials.ValidateProvider(provider); err != nil {
				return err
			}
			secret := value
			if secret == "" {
				var err error
				if secret, err = readSecret(cmd.InOrStdin(), cmd.ErrOrStderr(), provider); err != nil {
					return fmt.Errorf("reading secret: %w", err)
				}
			}

			store, err := deps.OpenCredentials()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.Set(provider, secret); err != nil {
				return fmt.Errorf("saving credential: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Stored %s secret %s\n", provider, credentials.MaskCredential(strings.TrimSpace(secret)))
			fmt.Fprintf(out, "  File: %s\n", store.Path())
			fmt.Fprintf(out, "  Key:  %s\n", store.KeyDescription())
			if env := credentials.ProviderEnv[provider]; os.Getenv(env) != "" {
				fmt.Fprintf(out, "Note: %s is set and takes precedence over the stored secret\n", env)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "Secret value (visible in shell history; prefer the prompt)")
	return cmd
}

// readSecret reads one line from in, prompting without echo when in is a
// terminal.
func readSecret(in io.Reader, prompt io.Writer, provider string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(prompt, "Enter %s secret: ", provider)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no secret provided")
	}
	return line, nil
}

func newAuthDeleteCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:       "delete <provider>",
		Short:     "Remove a provider's stored secret",
		Aliases:   []string{"rm"},
		Args:      cobra.ExactArgs(1),
		ValidArgs: credentials.Providers(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := credentials.ValidateProvider(args[0]); err != nil {
				return err
			}
			store, err := deps.OpenCredentials()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			if err := store.Delete(args[0]); err != nil {
				return fmt.Errorf("deleting credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed stored %s secret\n", args[0])
			return nil
		},
	}
}

// authStatus describes where each provider's secret would come from.
type authStatus struct {
	Provider  string     `json:"provider" yaml:"provider"`
	Source    string     `json:"source" yaml:"source"`
	Masked    string     `json:"masked,omitempty" yaml:"masked,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty" yaml:"updated_at,omitempty"`
}

func newAuthListCommand(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Short:   "Show which providers have credentials",
		Aliases: []string{"ls", "status"},
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := deps.open(overrides{})
			if err != nil {
				return err
			}
			defer s.Close()

			store, err := deps.OpenCredentials()
			if err != nil {
				return fmt.Errorf("initializing credential store: %w", err)
			}
			entries, err := store.List()
			if err != nil {
				return err
			}
			statuses := authStatuses(entries)

			return writeOutput(cmd.OutOrStdout(), s.cfg.OutputFormat, statuses, func(w io.Writer) error {
				rows := make([][]string, 0, len(statuses))
				for _, st := range statuses {
					updated := "-"
					if st.UpdatedAt != nil {
						updated = st.UpdatedAt.Local().Format(time.DateTime)
					}
					rows = append(rows, []string{st.Provider, st.Source, orDash(st.Masked), updated})
				}
				fmt.Fprintln(w, renderTable([]string{"Provider", "Source", "Secret", "Updated"}, rows, nil))
				fmt.Fprintf(w, "Key: %s\n", store.KeyDescription())
				return nil
			})
		},
	}
}

// authStatuses reports every known provider, environment first.
func authStatuses(entries []credentials.Entry) []authStatus {
	stored := make(map[string]credentials.Entry, len(entries))
	for _, e := range entries {
		stored[e.Provider] = e
	}

	out := make([]authStatus, 0, len(credentials.ProviderEnv))
	for _, provider := range credentials.Providers() {
		st := authStatus{Provider: provider, Source: "none"}
		if v := strings.TrimSpace(os.Getenv(credentials.ProviderEnv[provider])); v != "" {
			st.Source = string(credentials.SourceEnv)
			st.Masked = credentials.MaskCredential(v)
		} else if e, ok := stored[provider]; ok {
			st.Source = string(credentials.SourceStore)
			st.Masked = e.Masked
			updated := e.UpdatedAt
			st.UpdatedAt = &updated
		}
		out = append(out, st)
	}
	return out
}
