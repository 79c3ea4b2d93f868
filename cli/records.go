package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/aschepis/memvault/memory"
	"github.com/aschepis/memvault/service"
)

func (a *app) newStoreCmd() *cobra.Command {
	var (
		typ        string
		importance int
		meta       string
		sets       []string
		ttl        time.Duration
		expiresAt  string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store and index a memory",
		Long:  "Store a memory and add it to the search index. Content can be a positional arg or piped via stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := a.readContent(args)
			if err != nil {
				return err
			}
			raw = strings.TrimSpace(raw)
			if raw == "" {
				return fmt.Errorf("content is required (positional arg or stdin)")
			}

			var content any = raw
			if asJSON {
				if err := json.Unmarshal([]byte(raw), &content); err != nil {
					return fmt.Errorf("--json content is not valid JSON: %w", err)
				}
			}

			recordType, err := memory.ParseRecordType(typ)
			if err != nil {
				return err
			}
			metadata, err := buildMetadata(meta, sets)
			if err != nil {
				return err
			}

			var expires *time.Time
			switch {
			case ttl != 0 && expiresAt != "":
				return fmt.Errorf("--ttl and --expires-at are mutually exclusive")
			case ttl != 0:
				t := time.Now().Add(ttl)
				expires = &t
			case expiresAt != "":
				t, err := time.Parse(time.RFC3339, expiresAt)
				if err != nil {
					return fmt.Errorf("--expires-at must be RFC3339: %w", err)
				}
				expires = &t
			}

			id, err := a.svc.Remember(cmd.Context(), service.RememberParams{
				Content:    content,
				Type:       recordType,
				Metadata:   metadata,
				ExpiresAt:  expires,
				Importance: importance,
			})
			if err != nil {
				if id != 0 {
					return fmt.Errorf("stored memory %d but indexing failed (run reconcile): %w", id, err)
				}
				return err
			}
			return a.render(map[string]int64{"id": id}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "stored memory %d\n", id)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", string(memory.TypeFact), "Type: CONVERSATION, CONTEXT, FACT, PROMPT, PREFERENCE")
	cmd.Flags().IntVarP(&importance, "importance", "i", 0, "Importance 0-10")
	cmd.Flags().StringVar(&meta, "meta", "", "JSON metadata object")
	cmd.Flags().StringArrayVar(&sets, "set", nil, "Set a metadata field, e.g. --set source.kind=email (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Expire after this long, e.g. 24h")
	cmd.Flags().StringVar(&expiresAt, "expires-at", "", "Expire at this RFC3339 time")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Parse content as JSON")
	return cmd
}

func (a *app) newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a memory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			rec, ok, err := a.svc.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("memory %d not found", id)
			}
			return a.render(rec, func(w io.Writer) error {
				return writeRecords(w, []memory.Record{rec})
			})
		},
	}
}

func (a *app) newListCmd() *cobra.Command {
	var (
		typ           string
		limit         int
		minImportance int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			p := memory.RetrieveParams{Limit: limit, MinImportance: minImportance}
			if typ != "" {
				recordType, err := memory.ParseRecordType(typ)
				if err != nil {
					return err
				}
				p.Type = recordType
			}
			records, err := a.svc.List(cmd.Context(), p)
			if err != nil {
				return err
			}
			if records == nil {
				records = []memory.Record{}
			}
			return a.render(records, func(w io.Writer) error {
				return writeRecords(w, records)
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Filter by type")
	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "Max results")
	cmd.Flags().IntVar(&minImportance, "min-importance", 0, "Only memories with at least this importance")
	return cmd
}

func (a *app) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a memory and its index entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			deleted, err := a.svc.Delete(cmd.Context(), id)
			if err != nil {
				return err
			}
			return a.render(map[string]bool{"deleted": deleted}, func(w io.Writer) error {
				if !deleted {
					_, err := fmt.Fprintf(w, "memory %d not found\n", id)
					return err
				}
				_, err := fmt.Fprintf(w, "deleted memory %d\n", id)
				return err
			})
		},
	}
}

func (a *app) newClearCmd() *cobra.Command {
	var (
		typ string
		all bool
	)
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete all memories of a type, or all memories with --all",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var target *memory.RecordType
			switch {
			case typ != "" && all:
				return fmt.Errorf("--type and --all are mutually exclusive")
			case typ != "":
				recordType, err := memory.ParseRecordType(typ)
				if err != nil {
					return err
				}
				target = &recordType
			case !all:
				return fmt.Errorf("either --type or --all is required")
			}

			n, err := a.svc.Clear(cmd.Context(), target)
			if err != nil {
				return err
			}
			return a.render(map[string]int64{"removed": n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "removed %d memories\n", n)
				return err
			})
		},
	}
	cmd.Flags().StringVarP(&typ, "type", "t", "", "Type to clear")
	cmd.Flags().BoolVar(&all, "all", false, "Clear every memory")
	return cmd
}

func (a *app) newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Physically remove expired memories",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := a.svc.PurgeExpired(cmd.Context())
			if err != nil {
				return err
			}
			return a.render(map[string]int64{"purged": n}, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "purged %d expired memories\n", n)
				return err
			})
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid memory id %q", s)
	}
	return id, nil
}
