// Command test-e2e drives a running server end to end: it streams a raw
// PCM16LE mono file over the voice websocket in real-time sized chunks,
// answers heartbeat pings and prints every frame the server sends back.
//
// Usage:
//
//	test-e2e stream -f hola.pcm --url ws://localhost:8080/ws --user demo
//	test-e2e events <session-id> --api http://localhost:8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"nhooyr.io/websocket"

	"github.com/carllippert/nuance-server/internal/types"
)

var (
	wsURL      string
	apiURL     string
	inputFile  string
	outputFile string
	userID     string
	timezone   string
	offset     int
	sampleRate int
	chunkMS    int
	trailing   time.Duration
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "test-e2e",
	Short:         "End-to-end client for the voice server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream a raw PCM file and print server frames",
	Long: `Stream a raw PCM16LE mono file to the voice websocket.

The file is sent in chunks paced to real time, followed by generated
silence so the server sees the end of speech. Synthesized audio received
back can be saved with --out.

Examples:
  test-e2e stream -f hola.pcm
  test-e2e stream -f hola.pcm --rate 16000 --out reply.pcm`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if inputFile == "" {
			return fmt.Errorf("input file is required, use -f")
		}
		pcm, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()
		return stream(ctx, pcm)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events <session-id>",
	Short: "Print a session's lifecycle events",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL+"/sessions/"+url.PathEscape(args[0])+"/events", nil)
		if err != nil {
			return err
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server returned %s", resp.Status)
		}
		var out struct {
			Events []types.Event `json:"events"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return fmt.Errorf("decode events: %w", err)
		}
		for _, e := range out.Events {
			fmt.Printf("%s  %-18s %v\n", e.Ts.Format("15:04:05.000"), e.Type, e.Payload)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api", "http://localhost:8080", "HTTP base URL of the server")

	streamCmd.Flags().StringVar(&wsURL, "url", "ws://localhost:8080/ws", "voice websocket URL")
	streamCmd.Flags().StringVarP(&inputFile, "file", "f", "", "raw PCM16LE mono input file")
	streamCmd.Flags().StringVarP(&outputFile, "out", "o", "", "write received audio to this file")
	streamCmd.Flags().StringVar(&userID, "user", "e2e-user", "user_id sent to the server")
	streamCmd.Flags().StringVar(&timezone, "timezone", "UTC", "timezone name sent to the server")
	streamCmd.Flags().IntVar(&offset, "offset", 0, "seconds from GMT sent to the server")
	streamCmd.Flags().IntVar(&sampleRate, "rate", 48000, "input sample rate")
	streamCmd.Flags().IntVar(&chunkMS, "chunk-ms", 100, "chunk duration in milliseconds")
	streamCmd.Flags().DurationVar(&trailing, "silence", 2*time.Second, "silence appended after the file")
	streamCmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "overall timeout")

	rootCmd.AddCommand(streamCmd, eventsCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func stream(ctx context.Context, pcm []byte) error {
	u, err := url.Parse(wsURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("user_id", userID)
	q.Set("timezone", timezone)
	q.Set("seconds_from_gmt", strconv.Itoa(offset))
	u.RawQuery = q.Encode()

	c, _, err := websocket.Dial(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", u, err)
	}
	defer c.Close(websocket.StatusNormalClosure, "done")
	c.SetReadLimit(1 << 20)

	var audio io.Writer = io.Discard
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		audio = f
	}

	fmt.Printf("=== E2E voice test ===\nURL: %s\nInput: %s (%d bytes)\n\n", u, inputFile, len(pcm))

	done := make(chan error, 1)
	go func() { done <- receive(ctx, c, audio) }()

	chunkBytes := (sampleRate * 2 * chunkMS / 1000) &^ 1
	if chunkBytes < 2 {
		return fmt.Errorf("chunk size too small")
	}
	silence := make([]byte, int(trailing.Seconds()*float64(sampleRate))*2)
	payload := append(append([]byte(nil), pcm...), silence...)

	tick := time.NewTicker(time.Duration(chunkMS) * time.Millisecond)
	defer tick.Stop()
	for off := 0; off < len(payload); off += chunkBytes {
		end := min(off+chunkBytes, len(payload))
		if err := c.Write(ctx, websocket.MessageBinary, payload[off:end]); err != nil {
			return fmt.Errorf("send chunk: %w", err)
		}
		select {
		case <-tick.C:
		case err := <-done:
			return err
		case <-ctx.Done():
			return nil
		}
	}
	fmt.Println("[*] audio sent, waiting for the reply (Ctrl+C to stop)")

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		fmt.Println("[*] timeout reached")
		return nil
	}
}

// receive prints text frames, answers pings and collects synthesized audio
// until the connection closes.
func receive(ctx context.Context, c *websocket.Conn, audio io.Writer) error {
	var audioBytes int
	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if code := websocket.CloseStatus(err); code != -1 {
				fmt.Printf("[stream] closed by server: %d\n", code)
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		ts := time.Now().Format("15:04:05.000")
		if typ == websocket.MessageBinary {
			if len(data) == 1 && data[0] == 0x00 {
				if err := c.Write(ctx, websocket.MessageBinary, []byte{0x00}); err != nil {
					return fmt.Errorf("pong: %w", err)
				}
				continue
			}
			audioBytes += len(data)
			if _, err := audio.Write(data); err != nil {
				return fmt.Errorf("write audio: %w", err)
			}
			fmt.Printf("\r[%s] <- audio %d bytes", ts, audioBytes)
			continue
		}
		var m types.Message
		if err := json.Unmarshal(data, &m); err != nil {
			fmt.Printf("[%s] <- %s\n", ts, data)
			continue
		}
		if m.Key2 != "" {
			fmt.Printf("\n[%s] <- %s: %q (%s: %q)\n", ts, m.Key, m.Value, m.Key2, m.Value2)
			continue
		}
		fmt.Printf("\n[%s] <- %s: %q\n", ts, m.Key, m.Value)
	}
}
