package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/MarcoPoloResearchLab/hive/internal/identity"
	"github.com/MarcoPoloResearchLab/hive/internal/messages"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func (a *app) messagesService(guildID string) (*messages.Service, error) {
	guildStore, err := a.stores.Get(guildID)
	if err != nil {
		return nil, err
	}
	return messages.NewService(messages.ServiceConfig{
		Database: guildStore.DB,
		Hasher:   a.hasher,
		Logger:   a.logger,
	})
}

func (a *app) identityService(guildID string) (*identity.Service, error) {
	guildStore, err := a.stores.Get(guildID)
	if err != nil {
		return nil, err
	}
	return identity.NewService(identity.ServiceConfig{
		Database: guildStore.DB,
		Hasher:   a.hasher,
		Logger:   a.logger,
	})
}

// importRecord is one line of a JSONL backfill file: a normalized platform
// message with the real author id.
type importRecord struct {
	MessageID     string    `json:"message_id"`
	AuthorID      string    `json:"author_id"`
	ChannelID     string    `json:"channel_id"`
	Timestamp     time.Time `json:"timestamp"`
	Content       string    `json:"content"`
	AttachmentURL string    `json:"attachment_url"`
	ThreadCreated bool      `json:"thread_created"`
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <guild-id> <messages.jsonl>",
		Short: "Bulk-import a message history backfill",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			guildID, path := args[0], args[1]
			service, err := a.messagesService(guildID)
			if err != nil {
				return err
			}

			file, err := os.Open(path)
			if err != nil {
				return err
			}
			defer file.Close()

			importID := uuid.NewString()
			a.logger.Info("import started",
				zap.String("import_id", importID),
				zap.String("guild_id", guildID),
				zap.String("path", path))

			ignored := make(map[string]struct{})
			for _, channelID := range a.config.IgnoredChannels[guildID] {
				ignored[channelID] = struct{}{}
			}

			var batch []messages.Message
			var skipped int
			scanner := bufio.NewScanner(file)
			scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			for scanner.Scan() {
				line := scanner.Bytes()
				if len(line) == 0 {
					continue
				}
				var record importRecord
				if err := json.Unmarshal(line, &record); err != nil {
					return fmt.Errorf("malformed record: %w", err)
				}

				inbound := messages.Inbound{
					MessageID:     record.MessageID,
					AuthorID:      record.AuthorID,
					ChannelID:     record.ChannelID,
					Timestamp:     record.Timestamp,
					Content:       record.Content,
					AttachmentURL: record.AttachmentURL,
					ThreadCreated: record.ThreadCreated,
				}
				if _, isIgnored := ignored[inbound.ChannelID]; isIgnored || !inbound.Eligible() {
					skipped++
					continue
				}

				message, err := inbound.Normalize(a.hasher)
				if err != nil {
					return err
				}
				batch = append(batch, message)
			}
			if err := scanner.Err(); err != nil {
				return err
			}

			inserted, err := service.SaveBatch(cmd.Context(), batch)
			if err != nil {
				return err
			}
			if err := service.RebuildDays(cmd.Context()); err != nil {
				return err
			}
			if err := service.Optimize(cmd.Context()); err != nil {
				return err
			}

			a.logger.Info("import finished",
				zap.String("import_id", importID),
				zap.Int64("inserted", inserted),
				zap.Int("skipped", skipped))
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d messages (%d skipped)\n", inserted, skipped)
			return nil
		},
	}
}

func newExportCommand() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "export <guild-id> <real-author-id>",
		Short: "Export one author's archived messages as JSONL",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}

			rows, err := service.ExportForAuthor(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			if outputPath == "" {
				outputPath = fmt.Sprintf("export-%s.jsonl", uuid.NewString())
			}
			file, err := os.Create(outputPath)
			if err != nil {
				return err
			}
			defer file.Close()

			encoder := json.NewEncoder(file)
			for _, row := range rows {
				record := map[string]interface{}{
					"message_id":     row.MessageID,
					"channel_id":     row.ChannelID,
					"timestamp":      row.Timestamp().Format(time.RFC3339),
					"content":        row.Content,
					"attachment_url": row.AttachmentURL,
				}
				if err := encoder.Encode(record); err != nil {
					return err
				}
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d messages to %s\n", len(rows), outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path")
	return cmd
}

func newTrendCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trend <guild-id> <expression>",
		Short: "Daily normalized frequency of an expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			result, err := service.Trend(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "archive spans %s .. %s\n", result.FirstDay, result.LastDay)
			for _, point := range result.Points {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%.6f\n", point.Date, point.Frequency)
			}
			return nil
		},
	}
}

func newRankCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rank <guild-id> <expression>",
		Short: "Per-author usage leaderboard for an expression",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			entries, err := service.Rank(cmd.Context(), args[1])
			if err != nil {
				return err
			}

			for position, entry := range entries {
				label := entry.Author.ID
				if !entry.Author.IsReal() {
					label = "anonymous (" + entry.Author.ID[:12] + "...)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d.\t%s\t%d\n", position+1, label, entry.Count)
			}
			return nil
		},
	}
}

func newRandomCommand() *cobra.Command {
	var filters messages.RandomFilters
	cmd := &cobra.Command{
		Use:   "random <guild-id>",
		Short: "Pick a random archived message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			message, err := service.RandomMessage(cmd.Context(), filters)
			if err != nil {
				return err
			}
			if message == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "no message matches the filters")
				return nil
			}

			content := ""
			if message.Content != nil {
				content = *message.Content
			}
			fmt.Fprintf(cmd.OutOrStdout(), "[%s] #%s %s\n", message.Timestamp().Format(time.RFC3339), message.ChannelID, content)
			if message.AttachmentURL != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "attachment: %s\n", *message.AttachmentURL)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&filters.ChannelID, "channel", "", "Restrict to one channel id")
	cmd.Flags().BoolVar(&filters.RequireAttachment, "media", false, "Require an attachment")
	cmd.Flags().IntVar(&filters.MinContentLength, "min-length", 0, "Minimum content length")
	cmd.Flags().StringVar(&filters.AuthorID, "author", "", "Restrict to one real author id")
	return cmd
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <guild-id>",
		Short: "Per-channel archive statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}

			stats, err := service.ChannelStats(cmd.Context())
			if err != nil {
				return err
			}
			for channelID, stat := range stats {
				fmt.Fprintf(cmd.OutOrStdout(), "#%s\t%d messages\t%s .. %s\n",
					channelID, stat.Count,
					stat.FirstMessageTime.Format(time.RFC3339),
					stat.LastMessageTime.Format(time.RFC3339))
			}

			lastID, found, err := service.LastMessageID(cmd.Context())
			if err != nil {
				return err
			}
			if found {
				createdAt, err := messages.SnowflakeTime(lastID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "last archived message %s (%s)\n", lastID, createdAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newDaysCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "days <guild-id> <start> <end>",
		Short: "Day buckets over an inclusive date range",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			start, err := time.Parse("2006-01-02", args[1])
			if err != nil {
				return fmt.Errorf("invalid start date: %w", err)
			}
			end, err := time.Parse("2006-01-02", args[2])
			if err != nil {
				return fmt.Errorf("invalid end date: %w", err)
			}

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			days, err := service.DayRange(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			for _, day := range days {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", day.Date, day.Count)
			}
			return nil
		},
	}
}

func newOptimizeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "optimize <guild-id>",
		Short: "Compact the store and merge full-text index segments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			return service.Optimize(cmd.Context())
		},
	}
}

func newRebuildCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild <guild-id>",
		Short: "Regenerate the full-text index and the day buckets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			if err := service.RebuildIndex(cmd.Context()); err != nil {
				return err
			}
			return service.RebuildDays(cmd.Context())
		},
	}
}

func newPurgeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <guild-id> <message-id>...",
		Short: "Remove messages deleted platform-side",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			removed, err := service.PurgeByIDs(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d messages\n", removed)
			return nil
		},
	}
}

func newPruneCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "prune <guild-id> <active-channel-id>...",
		Short: "Drop messages from channels no longer on the platform",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.messagesService(args[0])
			if err != nil {
				return err
			}
			removed, err := service.PruneChannels(cmd.Context(), args[1:])
			if err != nil {
				return err
			}
			if err := service.RebuildDays(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d messages from stale channels\n", removed)
			return nil
		},
	}
}

func newRegisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "register <guild-id> <real-author-id>",
		Short: "Opt a user in to real-identity display",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.identityService(args[0])
			if err != nil {
				return err
			}
			return service.Register(cmd.Context(), args[1])
		},
	}
}

func newUnregisterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "unregister <guild-id> <real-author-id>",
		Short: "Withdraw a user's real-identity opt-in",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			service, err := a.identityService(args[0])
			if err != nil {
				return err
			}
			return service.Unregister(cmd.Context(), args[1])
		},
	}
}
