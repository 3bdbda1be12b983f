package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

func clientForCmd(cmd *cobra.Command) (*apiClient, error) {
	user, _ := cmd.Flags().GetString("user")
	return newAPIClient(user)
}

// --- add ---

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add content to the knowledge base",
	Long: `Add content to the knowledge base.

Examples:
  secondbrain add --text "Meeting with Alice about the budget" --title "Budget sync"
  secondbrain add --url https://example.com/article
  secondbrain add --file ./report.pdf
  secondbrain add --file ./standup.mp3`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		url, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		title, _ := cmd.Flags().GetString("title")

		if text == "" && url == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		var resp *http.Response
		if file != "" {
			resp, err = client.postFile("/upload", file)
		} else {
			resp, err = client.postJSON("/upload", map[string]string{"text": text, "url": url, "title": title})
		}
		if err != nil {
			return err
		}

		var result struct {
			OK    bool   `json:"ok"`
			DocID string `json:"docId"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Queued doc %s", result.DocID)
		return nil
	},
}

func init() {
	addCmd.Flags().String("text", "", "text content to add")
	addCmd.Flags().String("url", "", "URL to fetch and add")
	addCmd.Flags().String("file", "", "file path to upload (pdf, md, txt, audio, image)")
	addCmd.Flags().String("title", "", "title for the document")
}

// --- ask ---

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask a question grounded in your knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		k, _ := cmd.Flags().GetInt("k")
		showSources, _ := cmd.Flags().GetBool("sources")

		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.postJSON("/query", map[string]any{"query": query, "k": k})
		if err != nil {
			return err
		}

		var result struct {
			Answer  string `json:"answer"`
			Sources []struct {
				ChunkID string  `json:"chunkId"`
				DocID   string  `json:"docId"`
				Score   float64 `json:"score"`
			} `json:"sources"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Answer)
		if len(result.Sources) == 0 {
			printWarning("No stored notes back this answer")
		}
		if showSources && len(result.Sources) > 0 {
			fmt.Println()
			for i, s := range result.Sources {
				fmt.Printf("%s doc %s [score: %.3f]\n",
					colorize(colorBold, fmt.Sprintf("Source %d:", i+1)), s.DocID, s.Score)
			}
		}
		return nil
	},
}

func init() {
	askCmd.Flags().Int("k", 6, "number of chunks to retrieve")
	askCmd.Flags().Bool("sources", false, "print the sources backing the answer")
}

// --- docs ---

var docsCmd = &cobra.Command{
	Use:   "docs",
	Short: "Manage stored documents",
}

var docsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored documents",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.get("/docs")
		if err != nil {
			return err
		}

		var docs []struct {
			ID              string  `json:"id"`
			Title           string  `json:"title"`
			SourceType      string  `json:"sourceType"`
			ProcessingError string  `json:"processingError"`
			UploadedAt      string  `json:"uploadedAt"`
			IndexedAt       *string `json:"indexedAt"`
		}
		if err := decodeJSON(resp, &docs); err != nil {
			return err
		}

		if len(docs) == 0 {
			fmt.Println("No documents found.")
			return nil
		}

		for _, d := range docs {
			status := "pending"
			if d.IndexedAt != nil {
				status = "indexed"
			}
			if d.ProcessingError != "" {
				status = "error"
			}
			title := d.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %-5s  %-7s  %s\n",
				colorize(colorCyan, d.ID[:8]),
				d.SourceType,
				status,
				title,
			)
		}
		return nil
	},
}

var docsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a document and its chunks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := clientForCmd(cmd)
		if err != nil {
			return err
		}

		resp, err := client.delete("/docs/" + args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted doc %s", args[0])
		return nil
	},
}

func init() {
	docsCmd.AddCommand(docsListCmd)
	docsCmd.AddCommand(docsDeleteCmd)
}
