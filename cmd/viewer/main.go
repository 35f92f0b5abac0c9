// Command viewer dumps the chat store as a table without touching the
// running node. It opens Badger read-only and bypasses the lock guard, so
// it is safe to run next to a live server.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
)

type viewerConfig struct {
	BadgerFilepath string `env:"BADGER_FILEPATH,required=true"`
}

func main() {
	prefix := flag.String("prefix", "", "Key prefix to scan (user:, msg:group:, msg:conv:, unread:). Empty scans everything.")
	flag.Parse()

	_ = godotenv.Load()
	var config viewerConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		log.Fatalf("Config error: %v", err)
	}

	opts := badger.DefaultOptions(config.BadgerFilepath).
		WithReadOnly(true).
		WithBypassLockGuard(true).
		WithLoggingLevel(badger.ERROR)

	db, err := badger.Open(opts)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	fmt.Println(color.New(color.BgBlack, color.FgGreen).Render(" chatd store viewer "))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Key", "Type", "Timestamp", "Who", "Detail"})
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")

	rows := 0
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefixBytes := []byte(*prefix)
		for it.Seek(prefixBytes); it.ValidForPrefix(prefixBytes); it.Next() {
			item := it.Item()
			key := string(item.Key())
			if strings.HasPrefix(key, "seq:") || strings.HasPrefix(key, "!badger!") {
				continue
			}

			err := item.Value(func(v []byte) error {
				table.Append(describe(key, v))
				rows++
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}

	table.Render()
	fmt.Printf("\n%d entries\n", rows)
}

// describe maps one raw entry to a human readable row based on its key
// family. Undecodable values still get a row so corruption is visible.
func describe(key string, value []byte) []string {
	switch {
	case strings.HasPrefix(key, "user:"):
		var u struct {
			Username    string    `json:"username"`
			DisplayName string    `json:"display_name"`
			Online      bool      `json:"online"`
			LastSeen    time.Time `json:"last_seen"`
		}
		if err := json.Unmarshal(value, &u); err != nil {
			return []string{key, "USER", "", "", "unreadable: " + err.Error()}
		}
		state := color.Red.Render("offline")
		if u.Online {
			state = color.Green.Render("online")
		}
		return []string{key, "USER", u.LastSeen.Format("15:04:05"), u.Username, fmt.Sprintf("%s (%s)", u.DisplayName, state)}

	case strings.HasPrefix(key, "msg:"):
		var m struct {
			Kind      string    `json:"kind"`
			Content   string    `json:"content"`
			Sender    string    `json:"sender"`
			Receiver  string    `json:"receiver"`
			Group     bool      `json:"group"`
			CreatedAt time.Time `json:"created_at"`
		}
		if err := json.Unmarshal(value, &m); err != nil {
			return []string{key, "MSG", "", "", "unreadable: " + err.Error()}
		}
		kind := "PRIVATE"
		who := m.Sender + " -> " + m.Receiver
		if m.Group {
			kind = "GROUP"
			who = m.Sender
		}
		detail := m.Content
		if len(detail) > 60 {
			detail = detail[:60] + "..."
		}
		if m.Kind == "IMAGE" {
			detail = color.Cyan.Render("[image] ") + detail
		}
		return []string{key, kind, m.CreatedAt.Format("15:04:05"), who, detail}

	case strings.HasPrefix(key, "unread:"):
		return []string{key, "UNREAD", "", "", "-> " + string(value)}

	default:
		return []string{key, "RAW", "", "", fmt.Sprintf("%d bytes", len(value))}
	}
}
