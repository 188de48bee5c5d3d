// Package investigation holds the CLI commands that drive a callagent server:
// create an investigation, start it, watch its event stream, and fetch the
// ranked results.
package investigation

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var Group = &cobra.Group{
	ID:    "investigation",
	Title: "Investigations",
}

var serverURL string

func init() {
	for _, command := range []*cobra.Command{Create, Start, Watch, Results, Intake} {
		command.Flags().StringVar(&serverURL, "server", defaultServerURL(), "callagent server base URL")
	}
	Create.Flags().StringVar(&createRequirement, "requirement", "", "what the calls should find out")
	Create.Flags().IntVar(&createConcurrency, "concurrency", 2, "parallel calls, capped by the server")
	Create.Flags().StringArrayVar(&createContacts, "contact", nil, "contact as name:phone[:language], repeatable")
}

func defaultServerURL() string {
	if url := os.Getenv("CALLAGENT_URL"); url != "" {
		return url
	}
	return "http://localhost:4000"
}

var (
	createRequirement string
	createConcurrency int
	createContacts    []string
)

var Create = &cobra.Command{
	Use:     "create",
	GroupID: "investigation",
	Short:   "Create an investigation",
	Long:    "Creates a draft investigation with the given requirement and contacts. Prints the id.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		contacts := make([]map[string]string, 0, len(createContacts))
		for _, raw := range createContacts {
			parts := strings.SplitN(raw, ":", 3)
			if len(parts) < 2 {
				return fmt.Errorf("contact %q must be name:phone[:language]", raw)
			}
			contact := map[string]string{"name": parts[0], "phone": parts[1], "language": "english"}
			if len(parts) == 3 {
				contact["language"] = parts[2]
			}
			contacts = append(contacts, contact)
		}

		var response struct {
			ID string `json:"id"`
		}
		err := postJSON(serverURL+"/api/investigations", map[string]any{
			"requirement": createRequirement,
			"concurrency": createConcurrency,
			"contacts":    contacts,
		}, &response)
		if err != nil {
			return err
		}
		fmt.Println(response.ID)
		return nil
	},
}

var Start = &cobra.Command{
	Use:     "start <id>",
	GroupID: "investigation",
	Short:   "Start an investigation's calls",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var response struct {
			Status string `json:"status"`
		}
		if err := postJSON(serverURL+"/api/investigations/"+args[0]+"/start", nil, &response); err != nil {
			return err
		}
		fmt.Println(response.Status)
		return nil
	},
}

var Watch = &cobra.Command{
	Use:     "watch <id>",
	GroupID: "investigation",
	Short:   "Stream an investigation's events",
	Long:    "Follows the investigation's event stream and prints each event as one JSON line.",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url := serverURL + "/api/investigations/" + args[0] + "/events"
		request, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		request.Header.Set("Accept", "text/event-stream")

		client := &http.Client{} // no timeout, the stream is long-lived
		response, err := client.Do(request)
		if err != nil {
			return err
		}
		defer func() { _ = response.Body.Close() }()
		if response.StatusCode != http.StatusOK {
			return fmt.Errorf("server responded %s", response.Status)
		}

		scanner := bufio.NewScanner(response.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			if data, found := strings.CutPrefix(line, "data: "); found {
				fmt.Println(data)
			}
		}
		return scanner.Err()
	},
}

var Results = &cobra.Command{
	Use:     "results <id>",
	GroupID: "investigation",
	Short:   "Fetch the ranked recommendation",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getJSONToStdout(serverURL + "/api/investigations/" + args[0] + "/results")
	},
}

var Intake = &cobra.Command{
	Use:     "intake [file]",
	GroupID: "investigation",
	Short:   "Parse a freeform intake note",
	Long:    "Reads a freeform note from the file or stdin and prints the structured intake proposal.",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			text []byte
			err  error
		)
		if len(args) == 1 {
			text, err = os.ReadFile(args[0])
		} else {
			text, err = io.ReadAll(os.Stdin)
		}
		if err != nil {
			return err
		}

		var parsed json.RawMessage
		if err = postJSON(serverURL+"/api/intake/parse", map[string]string{"text": string(text)}, &parsed); err != nil {
			return err
		}
		return printIndented(parsed)
	},
}

func postJSON(url string, body any, v any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	request, err := http.NewRequest(http.MethodPost, url, reader)
	if err != nil {
		return err
	}
	request.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	response, err := client.Do(request)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("server responded %s: %s", response.Status, strings.TrimSpace(string(payload)))
	}
	if v == nil {
		return nil
	}
	return json.Unmarshal(payload, v)
}

func getJSONToStdout(url string) error {
	client := &http.Client{Timeout: 30 * time.Second}
	response, err := client.Get(url)
	if err != nil {
		return err
	}
	defer func() { _ = response.Body.Close() }()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return err
	}
	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("server responded %s: %s", response.Status, strings.TrimSpace(string(payload)))
	}
	return printIndented(payload)
}

func printIndented(payload []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, payload, "", "  "); err != nil {
		return err
	}
	fmt.Println(buf.String())
	return nil
}
