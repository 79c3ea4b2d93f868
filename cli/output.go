package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/aschepis/memvault/memory"
)

// render writes v as indented JSON, or through text when --format text.
func (a *app) render(v any, text func(w io.Writer) error) error {
	if a.format == "text" && text != nil {
		return text(a.out)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = fmt.Fprintln(a.out, string(b))
	return err
}

func writeRecords(w io.Writer, records []memory.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tIMPORTANCE\tCREATED\tEXPIRES\tCONTENT")
	for _, r := range records {
		expires := "-"
		if r.ExpiresAt != nil {
			expires = r.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\t%s\n",
			r.ID, r.Type, r.Importance, r.CreatedAt.UTC().Format(time.RFC3339), expires, preview(r.Content))
	}
	return tw.Flush()
}

func preview(content any) string {
	var s string
	if str, ok := content.(string); ok {
		s = str
	} else {
		b, _ := json.Marshal(content)
		s = string(b)
	}
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}

// jsonValue returns s as a raw JSON value: s itself when it is valid JSON,
// otherwise s quoted as a string.
func jsonValue(s string) string {
	if gjson.Valid(s) {
		return s
	}
	b, _ := json.Marshal(s)
	return string(b)
}

// buildMetadata starts from the JSON object raw and applies each path=value
// assignment in sets. Paths use dot notation for nested fields.
func buildMetadata(raw string, sets []string) (map[string]any, error) {
	doc := strings.TrimSpace(raw)
	if doc == "" {
		doc = "{}"
	}
	if !gjson.Valid(doc) || !gjson.Parse(doc).IsObject() {
		return nil, fmt.Errorf("--meta must be a JSON object")
	}

	for _, kv := range sets {
		path, val, ok := strings.Cut(kv, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("--set expects path=value, got %q", kv)
		}
		var err error
		doc, err = sjson.SetRaw(doc, path, jsonValue(val))
		if err != nil {
			return nil, fmt.Errorf("failed to set %q: %w", path, err)
		}
	}

	var meta map[string]any
	if err := json.Unmarshal([]byte(doc), &meta); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return meta, nil
}

// parseFilters turns key=value pairs into search filters. Values that parse
// as JSON keep their JSON type.
func parseFilters(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	filters := make(map[string]any, len(pairs))
	for _, kv := range pairs {
		key, val, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--filter expects key=value, got %q", kv)
		}
		var v any
		if err := json.Unmarshal([]byte(jsonValue(val)), &v); err != nil {
			return nil, fmt.Errorf("failed to parse filter %q: %w", key, err)
		}
		filters[key] = v
	}
	return filters, nil
}

// readContent joins args, or reads piped input when there are none.
func (a *app) readContent(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if a.in == nil {
		return "", nil
	}
	if f, ok := a.in.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(a.in)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(b), nil
}
