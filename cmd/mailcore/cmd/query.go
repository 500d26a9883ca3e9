package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/wesm/mailcore/internal/query"
	"github.com/wesm/mailcore/internal/store"
)

// queryFlags holds every filter flag. Each resource command registers
// only the flags it understands; a flag that was not given leaves its
// filter unset.
type queryFlags struct {
	namespace string
	view      string
	limit     int
	offset    int

	threadID          string
	subject           string
	startedBefore     string
	startedAfter      string
	lastMessageBefore string
	lastMessageAfter  string
	receivedBefore    string
	receivedAfter     string
	from, to, cc, bcc string
	anyEmail          []string
	filename, in      string
	unread, starred   bool

	messageID   string
	contentType string

	eventID, calendarID          string
	title, description, location string
	busy                         bool
	startsBefore, startsAfter    string
	endsBefore, endsAfter        string
	expand, showCancelled        bool

	appID, email string
	last, value  int64
	op           string
}

var qf queryFlags

// parseTime accepts unix seconds or RFC 3339.
func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want unix seconds or RFC 3339", s)
	}
	return t, nil
}

// optionals turns changed flags into filter pointers.
type optionals struct {
	fs  *pflag.FlagSet
	err error
}

func (o *optionals) str(name, v string) *string {
	if !o.fs.Changed(name) {
		return nil
	}
	return &v
}

func (o *optionals) boolean(name string, v bool) *bool {
	if !o.fs.Changed(name) {
		return nil
	}
	return &v
}

func (o *optionals) when(name, v string) *time.Time {
	if !o.fs.Changed(name) || o.err != nil {
		return nil
	}
	t, err := parseTime(v)
	if err != nil {
		o.err = fmt.Errorf("--%s: %w", name, err)
		return nil
	}
	return &t
}

func (o *optionals) num(name string, v int64) *int64 {
	if !o.fs.Changed(name) {
		return nil
	}
	return &v
}

func addConversationFlags(fs *pflag.FlagSet) {
	fs.StringVar(&qf.threadID, "thread-id", "", "thread public id")
	fs.StringVar(&qf.subject, "subject", "", "exact subject")
	fs.StringVar(&qf.startedBefore, "started-before", "", "thread started before")
	fs.StringVar(&qf.startedAfter, "started-after", "", "thread started after")
	fs.StringVar(&qf.lastMessageBefore, "last-message-before", "", "latest message before")
	fs.StringVar(&qf.lastMessageAfter, "last-message-after", "", "latest message after")
	fs.StringVar(&qf.from, "from", "", "sender email")
	fs.StringVar(&qf.to, "to", "", "recipient email")
	fs.StringVar(&qf.cc, "cc", "", "cc email")
	fs.StringVar(&qf.bcc, "bcc", "", "bcc email")
	fs.StringSliceVar(&qf.anyEmail, "any-email", nil, "any participant email (repeatable)")
	fs.StringVar(&qf.filename, "filename", "", "attachment filename")
	fs.StringVar(&qf.in, "in", "", "category name, display name or public id")
	fs.BoolVar(&qf.unread, "unread", false, "unread state")
	fs.BoolVar(&qf.starred, "starred", false, "starred state")
}

func threadFilter(fs *pflag.FlagSet) (query.ThreadFilter, error) {
	o := &optionals{fs: fs}
	f := query.ThreadFilter{
		ThreadPublicID:    o.str("thread-id", qf.threadID),
		Subject:           o.str("subject", qf.subject),
		StartedBefore:     o.when("started-before", qf.startedBefore),
		StartedAfter:      o.when("started-after", qf.startedAfter),
		LastMessageBefore: o.when("last-message-before", qf.lastMessageBefore),
		LastMessageAfter:  o.when("last-message-after", qf.lastMessageAfter),
		From:              o.str("from", qf.from),
		To:                o.str("to", qf.to),
		Cc:                o.str("cc", qf.cc),
		Bcc:               o.str("bcc", qf.bcc),
		AnyEmail:          qf.anyEmail,
		Filename:          o.str("filename", qf.filename),
		In:                o.str("in", qf.in),
		Unread:            o.boolean("unread", qf.unread),
		Starred:           o.boolean("starred", qf.starred),
	}
	return f, o.err
}

func messageFilter(fs *pflag.FlagSet) (query.MessageFilter, error) {
	t, err := threadFilter(fs)
	if err != nil {
		return query.MessageFilter{}, err
	}
	o := &optionals{fs: fs}
	f := query.MessageFilter{
		ThreadPublicID:    t.ThreadPublicID,
		Subject:           t.Subject,
		StartedBefore:     t.StartedBefore,
		StartedAfter:      t.StartedAfter,
		LastMessageBefore: t.LastMessageBefore,
		LastMessageAfter:  t.LastMessageAfter,
		ReceivedBefore:    o.when("received-before", qf.receivedBefore),
		ReceivedAfter:     o.when("received-after", qf.receivedAfter),
		From:              t.From,
		To:                t.To,
		Cc:                t.Cc,
		Bcc:               t.Bcc,
		AnyEmail:          t.AnyEmail,
		Filename:          t.Filename,
		In:                t.In,
		Unread:            t.Unread,
		Starred:           t.Starred,
	}
	return f, o.err
}

// resource is one queryable listing.
type resource struct {
	name  string
	short string
	flags func(fs *pflag.FlagSet)
	run   func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error)
}

var resources = []resource{
	{
		name: "threads", short: "List threads, most recent first",
		flags: addConversationFlags,
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			f, err := threadFilter(fs)
			if err != nil {
				return nil, err
			}
			return e.Threads(ctx, ns, f, view, page)
		},
	},
	{
		name: "messages", short: "List messages, newest first",
		flags: addMessageFlags,
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			f, err := messageFilter(fs)
			if err != nil {
				return nil, err
			}
			return e.Messages(ctx, ns, f, view, page)
		},
	},
	{
		name: "drafts", short: "List drafts, newest first",
		flags: addMessageFlags,
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			f, err := messageFilter(fs)
			if err != nil {
				return nil, err
			}
			return e.Drafts(ctx, ns, f, view, page)
		},
	},
	{
		name: "files", short: "List attachments and uploads",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&qf.messageID, "message-id", "", "message public id")
			fs.StringVar(&qf.filename, "filename", "", "exact filename")
			fs.StringVar(&qf.contentType, "content-type", "", "exact content type")
		},
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			o := &optionals{fs: fs}
			return e.Files(ctx, ns, query.FileFilter{
				MessagePublicID: o.str("message-id", qf.messageID),
				Filename:        o.str("filename", qf.filename),
				ContentType:     o.str("content-type", qf.contentType),
			}, view, page)
		},
	},
	{
		name: "events", short: "List calendar events by start time",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&qf.eventID, "event-id", "", "event public id")
			fs.StringVar(&qf.calendarID, "calendar-id", "", "calendar public id")
			fs.StringVar(&qf.title, "title", "", "title substring")
			fs.StringVar(&qf.description, "description", "", "description substring")
			fs.StringVar(&qf.location, "location", "", "location substring")
			fs.BoolVar(&qf.busy, "busy", false, "busy state")
			fs.StringVar(&qf.startsBefore, "starts-before", "", "starts before")
			fs.StringVar(&qf.startsAfter, "starts-after", "", "starts after")
			fs.StringVar(&qf.endsBefore, "ends-before", "", "ends before")
			fs.StringVar(&qf.endsAfter, "ends-after", "", "ends after")
			fs.BoolVar(&qf.expand, "expand-recurring", false, "return recurring events as their instances")
			fs.BoolVar(&qf.showCancelled, "show-cancelled", false, "include cancelled events")
		},
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			o := &optionals{fs: fs}
			f := query.EventFilter{
				EventPublicID:    o.str("event-id", qf.eventID),
				CalendarPublicID: o.str("calendar-id", qf.calendarID),
				Title:            o.str("title", qf.title),
				Description:      o.str("description", qf.description),
				Location:         o.str("location", qf.location),
				Busy:             o.boolean("busy", qf.busy),
				StartsBefore:     o.when("starts-before", qf.startsBefore),
				StartsAfter:      o.when("starts-after", qf.startsAfter),
				EndsBefore:       o.when("ends-before", qf.endsBefore),
				EndsAfter:        o.when("ends-after", qf.endsAfter),
				ExpandRecurring:  qf.expand,
				ShowCancelled:    qf.showCancelled,
			}
			if o.err != nil {
				return nil, o.err
			}
			return e.Events(ctx, ns, f, view, page)
		},
	},
	{
		name: "metadata", short: "List application metadata",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&qf.appID, "app", "", "application id")
		},
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			o := &optionals{fs: fs}
			return e.Metadata(ctx, ns, query.MetadataFilter{AppID: o.str("app", qf.appID)}, view, page)
		},
	},
	{
		name: "categories", short: "List folders and labels",
		run: func(ctx context.Context, e *query.Engine, ns int64, _ *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			return e.Categories(ctx, ns, view, page)
		},
	},
	{
		name: "contacts", short: "List contacts",
		flags: func(fs *pflag.FlagSet) {
			fs.StringVar(&qf.email, "email", "", "exact email address")
		},
		run: func(ctx context.Context, e *query.Engine, ns int64, fs *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			o := &optionals{fs: fs}
			return e.Contacts(ctx, ns, o.str("email", qf.email), view, page)
		},
	},
	{
		name: "calendars", short: "List calendars",
		run: func(ctx context.Context, e *query.Engine, ns int64, _ *pflag.FlagSet, view query.View, page query.Page) (query.Result, error) {
			return e.Calendars(ctx, ns, view, page)
		},
	},
}

func addMessageFlags(fs *pflag.FlagSet) {
	addConversationFlags(fs)
	fs.StringVar(&qf.receivedBefore, "received-before", "", "received at or before")
	fs.StringVar(&qf.receivedAfter, "received-after", "", "received after")
}

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Query a namespace's mail, files, events and metadata",
}

func newResourceCmd(r resource) *cobra.Command {
	c := &cobra.Command{
		Use:   r.name,
		Short: r.short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if qf.namespace == "" {
				return errors.New("--namespace is required")
			}
			view, err := query.ParseView(qf.view)
			if err != nil {
				return err
			}
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			ns, err := st.GetNamespaceByPublicID(ctx, qf.namespace)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("namespace %q not found", qf.namespace)
			}
			if err != nil {
				return err
			}
			e := query.NewEngine(st).WithLogger(logger).WithDefaultLimit(cfg.Query.DefaultLimit)
			defer e.Close()

			res, err := r.run(ctx, e, ns.ID, cmd.Flags(), view, query.Page{Limit: qf.limit, Offset: qf.offset})
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), res)
		},
	}
	if r.flags != nil {
		r.flags(c.Flags())
	}
	return c
}

var metadataForAppCmd = &cobra.Command{
	Use:   "metadata-for-app",
	Short: "Page through one application's metadata across namespaces",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		o := &optionals{fs: cmd.Flags()}
		e := query.NewEngine(st).WithLogger(logger).WithDefaultLimit(cfg.Query.DefaultLimit)
		defer e.Close()
		items, err := e.MetadataForApp(cmd.Context(), query.MetadataQuery{
			AppID:      qf.appID,
			Limit:      qf.limit,
			Last:       o.num("last", qf.last),
			QueryValue: o.num("value", qf.value),
			QueryType:  o.str("op", qf.op),
		})
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), query.Items[query.MetadataItem]{Items: items})
	},
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	queryCmd.PersistentFlags().StringVarP(&qf.namespace, "namespace", "n", "", "namespace public id")
	queryCmd.PersistentFlags().StringVar(&qf.view, "view", "", "full, ids, count or expanded")
	queryCmd.PersistentFlags().IntVar(&qf.limit, "limit", 0, "maximum results (default from config)")
	queryCmd.PersistentFlags().IntVar(&qf.offset, "offset", 0, "results to skip")

	for _, r := range resources {
		c := newResourceCmd(r)
		queryCmd.AddCommand(c)
	}

	metadataForAppCmd.Flags().StringVar(&qf.appID, "app", "", "application id")
	metadataForAppCmd.Flags().Int64Var(&qf.last, "last", 0, "only entries with a larger id")
	metadataForAppCmd.Flags().Int64Var(&qf.value, "value", 0, "value compared against queryable_value")
	metadataForAppCmd.Flags().StringVar(&qf.op, "op", "", "comparison: >, >=, <, <=, ==, !=")
	queryCmd.AddCommand(metadataForAppCmd)

	rootCmd.AddCommand(queryCmd)
}
