package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/nuetzliches/sbinspect/internal/client"
	"github.com/nuetzliches/sbinspect/internal/inspector"
)

// apiEnvVar overrides the default --api base URL.
const apiEnvVar = "SBINSPECT_API"

type clientFlags struct {
	api     string
	json    bool
	noColor bool
	timeout time.Duration
}

func (f *clientFlags) register(fs *flag.FlagSet) {
	def := client.DefaultBaseURL
	if v := strings.TrimSpace(os.Getenv(apiEnvVar)); v != "" {
		def = v
	}
	fs.StringVar(&f.api, "api", def, "sbinspect server base URL")
	fs.BoolVar(&f.json, "json", false, "print raw JSON")
	fs.BoolVar(&f.noColor, "no-color", false, "disable colored output")
	fs.DurationVar(&f.timeout, "timeout", 30*time.Second, "request timeout")
}

type clientCmd struct {
	name   string
	fs     *flag.FlagSet
	flags  clientFlags
	stdout io.Writer
	stderr io.Writer
	cl     *client.Client
}

func runClientCmd(name string, args []string, stdout, stderr io.Writer) int {
	c := &clientCmd{
		name:   name,
		fs:     flag.NewFlagSet(name, flag.ContinueOnError),
		stdout: stdout,
		stderr: stderr,
	}
	c.fs.SetOutput(stderr)
	c.flags.register(c.fs)

	var run func(ctx context.Context) error
	switch name {
	case "health":
		run = c.health
	case "connect":
		run = c.connect()
	case "disconnect":
		run = c.disconnect
	case "status":
		run = c.status
	case "entities":
		run = c.entities
	case "defaults":
		run = c.defaults
	case "scenarios":
		run = c.scenarios
	case "peek":
		run = c.peek()
	case "get":
		run = c.get
	case "receive":
		run = c.receive
	case "send":
		run = c.send()
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", name)
		return 2
	}

	if err := c.fs.Parse(args); err != nil {
		return 2
	}
	if name != "get" && c.fs.NArg() != 0 {
		fmt.Fprintf(stderr, "%s: unexpected positional arguments\n", name)
		return 2
	}
	if c.flags.noColor {
		color.NoColor = true
	}

	cl, err := client.New(c.flags.api, client.WithHTTPClient(&http.Client{Timeout: c.flags.timeout}))
	if err != nil {
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 2
	}
	c.cl = cl

	ctx, cancel := context.WithTimeout(context.Background(), c.flags.timeout)
	defer cancel()
	if err := run(ctx); err != nil {
		if errors.Is(err, errUsage) {
			return 2
		}
		fmt.Fprintf(stderr, "%s %s\n", color.RedString("error:"), err)
		return 1
	}
	return 0
}

func (c *clientCmd) printJSON(v any) error {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *clientCmd) usage(msg string) error {
	fmt.Fprintf(c.stderr, "%s: %s\n", c.name, msg)
	return errUsage
}

func (c *clientCmd) connect() func(context.Context) error {
	connStr := c.fs.String("connection-string", "", "Service Bus connection string")
	entity := c.fs.String("entity", "", "queue or topic name")
	subscription := c.fs.String("subscription", "", "subscription name (topics only)")
	return func(ctx context.Context) error {
		if strings.TrimSpace(*connStr) == "" || strings.TrimSpace(*entity) == "" {
			return c.usage("--connection-string and --entity are required")
		}
		info, err := c.cl.Connect(ctx, inspector.ConnectionRequest{
			ConnectionString: *connStr,
			EntityName:       *entity,
			SubscriptionName: *subscription,
		})
		if err != nil {
			return err
		}
		if c.flags.json {
			return c.printJSON(info)
		}
		fmt.Fprintf(c.stdout, "%s %s\n", color.GreenString("connected"), describeConnection(info))
		return nil
	}
}

func (c *clientCmd) health(ctx context.Context) error {
	h, err := c.cl.Health(ctx)
	if err != nil {
		return err
	}
	if c.flags.json {
		return c.printJSON(h)
	}
	fmt.Fprintf(c.stdout, "%s at %s\n", color.GreenString(h.Status), h.Timestamp.UTC().Format(time.RFC3339))
	return nil
}

func (c *clientCmd) disconnect(ctx context.Context) error {
	if err := c.cl.Disconnect(ctx); err != nil {
		return err
	}
	if c.flags.json {
		return c.printJSON(map[string]string{"message": "Disconnected successfully"})
	}
	fmt.Fprintln(c.stdout, color.YellowString("disconnected"))
	return nil
}

func (c *clientCmd) status(ctx context.Context) error {
	info, ok, err := c.cl.Current(ctx)
	if err != nil {
		return err
	}
	if c.flags.json {
		if !ok {
			return c.printJSON(map[string]bool{"isConnected": false})
		}
		return c.printJSON(info)
	}
	if !ok {
		fmt.Fprintln(c.stdout, color.YellowString("not connected"))
		return nil
	}
	fmt.Fprintf(c.stdout, "%s %s\n", color.GreenString("connected"), describeConnection(info))
	return nil
}

func (c *clientCmd) entities(ctx context.Context) error {
	names, err := c.cl.Entities(ctx)
	if err != nil {
		return err
	}
	if c.flags.json {
		return c.printJSON(names)
	}
	for _, n := range names {
		fmt.Fprintln(c.stdout, n)
	}
	return nil
}

func (c *clientCmd) defaults(ctx context.Context) error {
	d, err := c.cl.Defaults(ctx)
	if err != nil {
		return err
	}
	if c.flags.json {
		return c.printJSON(d)
	}
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("host:"), d.Host)
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("connection string:"), d.ConnectionString)
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("queues:"), strings.Join(d.CommonQueues, ", "))
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("topics:"), strings.Join(d.CommonTopics, ", "))
	return nil
}

func (c *clientCmd) scenarios(ctx context.Context) error {
	list, err := c.cl.Scenarios(ctx)
	if err != nil {
		return err
	}
	if c.flags.json {
		return c.printJSON(list)
	}
	for _, sc := range list {
		fmt.Fprintf(c.stdout, "%s  %s\n", color.CyanString(sc.Name), sc.Host)
		if sc.Description != "" {
			fmt.Fprintf(c.stdout, "  %s\n", sc.Description)
		}
	}
	return nil
}

func (c *clientCmd) peek() func(context.Context) error {
	maxMessages := c.fs.Int("max", 100, "maximum messages to peek (1-100)")
	return func(ctx context.Context) error {
		page, err := c.cl.Peek(ctx, *maxMessages)
		if err != nil {
			return err
		}
		if c.flags.json {
			return c.printJSON(page)
		}
		if len(page.Items) == 0 {
			fmt.Fprintln(c.stdout, color.YellowString("no messages"))
			return nil
		}
		for _, m := range page.Items {
			fmt.Fprintf(c.stdout, "%s  %s  %s\n",
				color.CyanString("#%d", m.SequenceNumber),
				m.MessageID,
				m.EnqueuedTime.UTC().Format(time.RFC3339),
			)
		}
		if page.HasMore {
			fmt.Fprintln(c.stdout, color.YellowString("(more messages available)"))
		}
		return nil
	}
}

func (c *clientCmd) get(ctx context.Context) error {
	if c.fs.NArg() != 1 {
		return c.usage("expected exactly one message id")
	}
	msg, ok, err := c.cl.Message(ctx, c.fs.Arg(0))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("message %q not found", c.fs.Arg(0))
	}
	if c.flags.json {
		return c.printJSON(msg)
	}
	c.printMessage(msg)
	return nil
}

func (c *clientCmd) receive(ctx context.Context) error {
	msg, ok, err := c.cl.Receive(ctx)
	if err != nil {
		return err
	}
	if !ok {
		if c.flags.json {
			return c.printJSON(map[string]string{"message": "No messages available"})
		}
		fmt.Fprintln(c.stdout, color.YellowString("no messages available"))
		return nil
	}
	if c.flags.json {
		return c.printJSON(msg)
	}
	c.printMessage(msg)
	return nil
}

func (c *clientCmd) send() func(context.Context) error {
	body := c.fs.String("body", "", "message body")
	contentType := c.fs.String("content-type", "", "content type (default application/json)")
	ttl := c.fs.String("ttl", "", "time to live, e.g. 00:05:00 or 5m")
	count := c.fs.Int("count", 1, "number of copies to send")
	props := propertyFlag{}
	c.fs.Var(&props, "property", "application property name=value (repeatable)")
	return func(ctx context.Context) error {
		if *count < 1 {
			return c.usage("--count must be >= 1")
		}
		req := inspector.SendMessageRequest{
			Body:                  *body,
			ContentType:           *contentType,
			TimeToLive:            *ttl,
			ApplicationProperties: props.values(),
		}
		if *count == 1 {
			if err := c.cl.Send(ctx, req); err != nil {
				return err
			}
			if c.flags.json {
				return c.printJSON(map[string]string{"message": "Message sent successfully"})
			}
			fmt.Fprintln(c.stdout, color.GreenString("sent"))
			return nil
		}

		reqs := make([]inspector.SendMessageRequest, *count)
		for i := range reqs {
			reqs[i] = req
		}
		res, err := c.cl.BulkSend(ctx, reqs)
		if err != nil {
			return err
		}
		if c.flags.json {
			return c.printJSON(res)
		}
		fmt.Fprintf(c.stdout, "%s %d  %s %d\n",
			color.GreenString("sent:"), res.Successful,
			color.RedString("failed:"), res.Failed,
		)
		for _, e := range res.Errors {
			fmt.Fprintf(c.stdout, "  %s\n", e)
		}
		if res.Failed > 0 {
			return fmt.Errorf("%d of %d messages failed", res.Failed, *count)
		}
		return nil
	}
}

func (c *clientCmd) printMessage(m inspector.Message) {
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("id:"), m.MessageID)
	fmt.Fprintf(c.stdout, "%s %d\n", color.CyanString("sequence:"), m.SequenceNumber)
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("enqueued:"), m.EnqueuedTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("content type:"), m.ContentType)
	if m.TimeToLive != "" {
		fmt.Fprintf(c.stdout, "%s %s\n", color.CyanString("ttl:"), m.TimeToLive)
	}
	if m.DeliveryCount > 0 {
		fmt.Fprintf(c.stdout, "%s %d\n", color.CyanString("deliveries:"), m.DeliveryCount)
	}
	if len(m.ApplicationProperties) > 0 {
		fmt.Fprintln(c.stdout, color.CyanString("properties:"))
		keys := make([]string, 0, len(m.ApplicationProperties))
		for k := range m.ApplicationProperties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(c.stdout, "  %s = %v\n", k, m.ApplicationProperties[k])
		}
	}
	fmt.Fprintln(c.stdout, color.CyanString("body:"))
	fmt.Fprintln(c.stdout, m.Body)
}

func describeConnection(info inspector.ConnectionInfo) string {
	target := info.EntityName
	if info.SubscriptionName != "" {
		target += "/subscriptions/" + info.SubscriptionName
	}
	kind := strings.ToLower(info.EntityType)
	if info.IsEmulator {
		kind += ", emulator"
	}
	return fmt.Sprintf("%s (%s) at %s", target, kind, info.Host)
}

// propertyFlag collects repeated name=value pairs. Values that parse as JSON
// keep their type; anything else is sent as a string.
type propertyFlag struct {
	names []string
	raw   map[string]json.RawMessage
}

func (p *propertyFlag) String() string {
	return strings.Join(p.names, ",")
}

func (p *propertyFlag) Set(v string) error {
	name, val, ok := strings.Cut(v, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("invalid property %q (want name=value)", v)
	}
	if p.raw == nil {
		p.raw = make(map[string]json.RawMessage)
	}
	if _, dup := p.raw[name]; !dup {
		p.names = append(p.names, name)
	}
	if json.Valid([]byte(val)) {
		p.raw[name] = json.RawMessage(val)
		return nil
	}
	quoted, err := json.Marshal(val)
	if err != nil {
		return err
	}
	p.raw[name] = quoted
	return nil
}

func (p *propertyFlag) values() map[string]json.RawMessage {
	if len(p.raw) == 0 {
		return nil
	}
	out := make(map[string]json.RawMessage, len(p.raw))
	for k, v := range p.raw {
		out[k] = v
	}
	return out
}
