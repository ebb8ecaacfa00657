package main

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kalambet/sift/internal/config"
)

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Ingest a document and queue it for chunking",
	Long: `Ingest a document and queue it for chunking.

Examples:
  sift ingest --text "Chapter one. It was a dark and stormy night..."
  sift ingest --file ./book.txt --title "My book"
  sift ingest --file ./paper.pdf
  sift ingest --url https://example.com/article`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{
			"source": "cli",
		}
		if title != "" {
			req["title"] = title
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case url != "":
			req["type"] = "url"
			req["url"] = url
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if strings.EqualFold(filepath.Ext(file), ".pdf") {
				req["type"] = "pdf"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["type"] = "text"
				req["content"] = string(data)
			}
			if title == "" {
				req["title"] = file
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued document %s", result["id"])
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to ingest")
	ingestCmd.Flags().String("url", "", "URL to fetch and ingest")
	ingestCmd.Flags().String("file", "", "file path to ingest (.pdf is extracted)")
	ingestCmd.Flags().String("title", "", "title for the document")
}

// --- chunk ---

var chunkCmd = &cobra.Command{
	Use:   "chunk",
	Short: "Split text into segments without storing it",
	Long: `Split text into segments without storing it.

Examples:
  sift chunk --file ./draft.txt
  sift chunk --text "..." --min 200 --max 400`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		file, _ := cmd.Flags().GetString("file")
		minSize, _ := cmd.Flags().GetInt("min")
		maxSize, _ := cmd.Flags().GetInt("max")

		if text == "" && file == "" {
			return fmt.Errorf("one of --text or --file is required")
		}
		if file != "" {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			text = string(data)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/chunk", map[string]any{
			"text": text, "minSize": minSize, "maxSize": maxSize,
		})
		if err != nil {
			return err
		}

		var result struct {
			Segments []struct {
				Position int    `json:"position"`
				Size     int    `json:"size"`
				Content  string `json:"content"`
			} `json:"segments"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, seg := range result.Segments {
			printStep("segment %d (%d chars)", seg.Position, seg.Size)
			fmt.Fprintln(os.Stdout, seg.Content)
			fmt.Fprintln(os.Stdout)
		}
		printSuccess("%d segments", len(result.Segments))
		return nil
	},
}

func init() {
	chunkCmd.Flags().String("text", "", "text to chunk")
	chunkCmd.Flags().String("file", "", "file path to chunk")
	chunkCmd.Flags().Int("min", 0, "minimum segment size (0 = server default)")
	chunkCmd.Flags().Int("max", 0, "maximum segment size (0 = server default)")
}

// --- documents ---

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"docs"},
	Short:   "Manage stored documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/documents?limit=%d", limit))
		if err != nil {
			return err
		}

		var docs []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			Source    string `json:"source"`
			Size      int    `json:"size"`
			CreatedAt string `json:"createdAt"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			printWarning("no documents")
			return nil
		}
		for _, d := range docs {
			title := d.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Fprintf(os.Stdout, "%s  %-30s  %6d chars  %s\n", d.ID, title, d.Size, d.Source)
		}
		return nil
	},
}

var documentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a document's segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0]+"/segments")
		if err != nil {
			return err
		}

		var result struct {
			Segments []struct {
				Position int    `json:"position"`
				Size     int    `json:"size"`
				Content  string `json:"content"`
			} `json:"segments"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if len(result.Segments) == 0 {
			printWarning("no segments yet; chunking may still be in progress")
			return nil
		}
		for _, seg := range result.Segments {
			printStep("segment %d (%d chars)", seg.Position, seg.Size)
			fmt.Fprintln(os.Stdout, seg.Content)
			fmt.Fprintln(os.Stdout)
		}
		return nil
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a document and everything attached to it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/documents/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted document %s", args[0])
		return nil
	},
}

var documentsSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Summarize a document by merging its segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/documents/"+args[0]+"/summary", map[string]any{})
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Fprintln(os.Stdout, result["summary"])
		return nil
	},
}

func init() {
	documentsListCmd.Flags().Int("limit", 20, "maximum number of documents")
	documentsCmd.AddCommand(documentsListCmd, documentsShowCmd, documentsDeleteCmd, documentsSummaryCmd)
}

// --- topics ---

var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "Manage document topics",
}

var topicsListCmd = &cobra.Command{
	Use:   "list <document-id>",
	Short: "List a document's topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/documents/"+args[0]+"/topics")
		if err != nil {
			return err
		}

		var topics []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			StartPos int    `json:"startPos"`
			EndPos   int    `json:"endPos"`
		}
		if err := decodeJSON(resp, &topics); err != nil {
			return err
		}

		if len(topics) == 0 {
			printWarning("no topics; run `sift topics extract %s`", args[0])
			return nil
		}
		for _, t := range topics {
			fmt.Fprintf(os.Stdout, "%s  %-30s  segments %d..%d\n", t.ID, t.Name, t.StartPos, t.EndPos)
		}
		return nil
	},
}

var topicsExtractCmd = &cobra.Command{
	Use:   "extract <document-id>",
	Short: "Ask the model to segment a document into topics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("extracting topics...")
		resp, err := client.post(cmd.Context(), "/documents/"+args[0]+"/topics/extract", map[string]any{})
		if err != nil {
			return err
		}

		var topics []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		}
		if err := decodeJSON(resp, &topics); err != nil {
			return err
		}

		for _, t := range topics {
			fmt.Fprintf(os.Stdout, "%s  %s\n", t.ID, t.Name)
		}
		printSuccess("%d topics", len(topics))
		return nil
	},
}

func init() {
	topicsCmd.AddCommand(topicsListCmd, topicsExtractCmd)
}

// --- conversations ---

var converseCmd = &cobra.Command{
	Use:   "converse",
	Short: "Hold conversations about document topics",
}

var converseStartCmd = &cobra.Command{
	Use:   "start <topic-id>",
	Short: "Start a conversation on a topic",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		templateID, _ := cmd.Flags().GetString("template")
		title, _ := cmd.Flags().GetString("title")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/topics/"+args[0]+"/conversations", map[string]any{
			"templateId": templateID,
			"title":      title,
		})
		if err != nil {
			return err
		}

		var record struct {
			ID       string `json:"id"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		printSuccess("Started conversation %s", record.ID)
		if n := len(record.Messages); n > 0 {
			fmt.Fprintln(os.Stdout, record.Messages[n-1].Content)
		}
		return nil
	},
}

var converseSayCmd = &cobra.Command{
	Use:   "say <conversation-id> <message>",
	Short: "Send a message in a conversation",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/conversations/"+args[0]+"/messages", map[string]any{
			"content": args[1],
		})
		if err != nil {
			return err
		}

		var record struct {
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		if n := len(record.Messages); n > 0 {
			fmt.Fprintln(os.Stdout, record.Messages[n-1].Content)
		}
		return nil
	},
}

var converseListCmd = &cobra.Command{
	Use:   "list <topic-id>",
	Short: "List a topic's conversations",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/topics/"+args[0]+"/conversations")
		if err != nil {
			return err
		}

		var records []struct {
			ID        string `json:"id"`
			Title     string `json:"title"`
			UpdatedAt string `json:"updatedAt"`
		}
		if err := decodeJSON(resp, &records); err != nil {
			return err
		}

		if len(records) == 0 {
			printWarning("no conversations")
			return nil
		}
		for _, rec := range records {
			fmt.Fprintf(os.Stdout, "%s  %-40s  %s\n", rec.ID, rec.Title, rec.UpdatedAt)
		}
		return nil
	},
}

var converseShowCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Show a conversation transcript",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/conversations/"+args[0])
		if err != nil {
			return err
		}

		var record struct {
			Title    string `json:"title"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := decodeJSON(resp, &record); err != nil {
			return err
		}

		if record.Title != "" {
			printStatus("Title", "%s", record.Title)
		}
		for _, m := range record.Messages {
			printStep("%s", m.Role)
			fmt.Fprintln(os.Stdout, m.Content)
			fmt.Fprintln(os.Stdout)
		}
		return nil
	},
}

func init() {
	converseStartCmd.Flags().String("template", "preset-explore", "prompt template id")
	converseStartCmd.Flags().String("title", "", "conversation title")
	converseCmd.AddCommand(converseStartCmd, converseSayCmd, converseListCmd, converseShowCmd)
}

// --- templates ---

var templatesCmd = &cobra.Command{
	Use:   "templates",
	Short: "List conversation prompt templates",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/templates")
		if err != nil {
			return err
		}

		var templates []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			IsPreset bool   `json:"isPreset"`
		}
		if err := decodeJSON(resp, &templates); err != nil {
			return err
		}

		for _, t := range templates {
			marker := " "
			if t.IsPreset {
				marker = "*"
			}
			fmt.Fprintf(os.Stdout, "%s %s  %s\n", marker, t.ID, t.Name)
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sift configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current process configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, info := range config.ShowAll(cfg) {
			fmt.Fprintf(os.Stdout, "%-25s %-30s (%s)\n", info.Key, info.Value, info.EnvVar)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a process configuration key",
	Long: "Set a process configuration key.\n\nValid keys:\n  " +
		strings.Join(config.ValidKeys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetKey(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

var configProviderCmd = &cobra.Command{
	Use:   "provider <openai|openrouter|custom>",
	Short: "Store the active LLM provider configuration",
	Long: `Store the active LLM provider configuration on the server.

Examples:
  sift config provider openrouter --api-key sk-or-... --model openrouter/auto
  sift config provider openai --api-key sk-... --task-model summarize=gpt-4o
  sift config provider custom --base-url http://localhost:11434/v1 --model llama3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		apiKey, _ := cmd.Flags().GetString("api-key")
		baseURL, _ := cmd.Flags().GetString("base-url")
		model, _ := cmd.Flags().GetString("model")
		taskModelFlags, _ := cmd.Flags().GetStringSlice("task-model")

		taskModels := make(map[string]string)
		for _, tm := range taskModelFlags {
			task, m, ok := strings.Cut(tm, "=")
			if !ok {
				return fmt.Errorf("invalid --task-model %q, want task=model", tm)
			}
			taskModels[task] = m
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{
			"provider": args[0],
			"apiKey":   apiKey,
			"baseUrl":  baseURL,
			"model":    model,
		}
		if len(taskModels) > 0 {
			body["taskModels"] = taskModels
		}

		resp, err := client.put(cmd.Context(), "/config", body)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Provider %s is now active", args[0])
		return nil
	},
}

var configProviderClearCmd = &cobra.Command{
	Use:   "provider-clear",
	Short: "Clear the stored provider config, restoring the builtin",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/config")
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored provider config cleared; builtin provider active")
		return nil
	},
}

func init() {
	configProviderCmd.Flags().String("api-key", "", "provider API key")
	configProviderCmd.Flags().String("base-url", "", "provider base URL (required for custom)")
	configProviderCmd.Flags().String("model", "", "default model")
	configProviderCmd.Flags().StringSlice("task-model", nil, "per-task model override, task=model (repeatable)")

	configCmd.AddCommand(configShowCmd, configSetCmd, configProviderCmd, configProviderClearCmd)
}
