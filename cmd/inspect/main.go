// Command inspect prints the rooms of a store with their aggregates checked
// against the message log, or the messages of one room. It never writes.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"time"

	"roomsync/repositories"

	"github.com/dgraph-io/badger/v4"
	"github.com/gookit/color"
	"github.com/kelseyhightower/envconfig"
	"github.com/olekukonko/tablewriter"
)

type Config struct {
	BadgerFilepath string `envconfig:"BADGER_FILEPATH" default:"./data/badger"`
	// INSPECT_COLOURS highlights drifted aggregates
	Colours bool `envconfig:"INSPECT_COLOURS" default:"true"`
}

func main() {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal("Invalid configuration: ", err)
	}
	dbPath := flag.String("db", cfg.BadgerFilepath, "Path to badger DB")
	room := flag.String("room", "", "List the messages of this room instead of the rooms")
	onlyDrift := flag.Bool("drift", false, "Only show rooms whose aggregates drifted")
	flag.Parse()
	color.Enable = cfg.Colours

	db, err := badger.Open(badger.DefaultOptions(*dbPath).
		WithReadOnly(true).
		WithLogger(nil).
		WithBypassLockGuard(true))
	if err != nil {
		log.Fatal("Error while opening Badger: ", err)
	}
	defer db.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()
	if *room != "" {
		err = printMessages(ctx, repositories.NewMessageRepository(db, nil, logger, nil), *room)
	} else {
		err = printRooms(ctx, repositories.NewChatRepository(db, logger), *onlyDrift)
	}
	if err != nil {
		log.Fatal(err)
	}
}

func newTable(header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
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
	return table
}

func printRooms(ctx context.Context, chats *repositories.ChatRepository, onlyDrift bool) error {
	audits, err := chats.Audit(ctx)
	if err != nil {
		return err
	}
	table := newTable("Chat ID", "Title", "Creator", "Count", "Actual", "Last message", "Status")
	drifted := 0
	for _, a := range audits {
		status := color.Green.Render("ok")
		if a.Drifted() {
			drifted++
			status = color.New(color.FgRed, color.OpBold).Render("drift")
		} else if onlyDrift {
			continue
		}
		table.Append([]string{
			a.Room.ID,
			a.Room.Title,
			a.Room.CreatedBy,
			strconv.FormatInt(a.Room.MessageCount, 10),
			strconv.FormatInt(a.Count, 10),
			a.Room.LastMessageAt.Format(time.DateTime),
			status,
		})
	}
	table.Render()
	fmt.Printf("\n%d rooms, %d drifted\n", len(audits), drifted)

	pending, err := chats.PendingPurges(ctx)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		fmt.Println(color.Yellow.Sprintf("%d deleted rooms waiting for cleanup", len(pending)))
	}
	return nil
}

func printMessages(ctx context.Context, messages *repositories.MessageRepository, chatID string) error {
	table := newTable("At", "Message ID", "Author", "Content")
	n := 0
	for m, err := range messages.Stream(ctx, chatID) {
		if err != nil {
			return err
		}
		content := m.Text
		if m.File != nil {
			content = color.Cyan.Sprintf("[%s %s]", m.File.ContentType, m.File.Name)
		}
		table.Append([]string{m.CreatedAt.Format(time.DateTime), m.ID, m.AuthorID, content})
		n++
	}
	table.Render()
	fmt.Printf("\n%d messages\n", n)
	return nil
}
