package events

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
)

// deliveryError carries whether a failed delivery is worth retrying.
type deliveryError struct {
	err       error
	transient bool
}

func (e *deliveryError) Error() string   { return e.err.Error() }
func (e *deliveryError) Unwrap() error   { return e.err }
func (e *deliveryError) Temporary() bool { return e.transient }

// CloudEventsNotifier posts events as structured CloudEvents over HTTP.
type CloudEventsNotifier struct {
	client cloudevents.Client
	source string
	logger *slog.Logger
}

func NewCloudEventsNotifier(target, source string, logger *slog.Logger) (*CloudEventsNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if source == "" {
		source = "packet-parser"
	}
	p, err := cloudevents.NewHTTP(cloudevents.WithTarget(target))
	if err != nil {
		return nil, fmt.Errorf("cloudevents http protocol: %w", err)
	}
	c, err := cloudevents.NewClient(p, cloudevents.WithTimeNow())
	if err != nil {
		return nil, fmt.Errorf("cloudevents client: %w", err)
	}
	return &CloudEventsNotifier{client: c, source: source, logger: logger}, nil
}

// ToCloudEvent converts a ParseEvent to its wire form.
func ToCloudEvent(ev ParseEvent, source string) (cloudevents.Event, error) {
	e := cloudevents.NewEvent()
	e.SetID(ev.ID.String())
	e.SetType(ev.Type.CloudEventType())
	e.SetSource(source)
	e.SetSubject(ev.ParseID.String())
	e.SetTime(ev.At)
	if err := e.SetData(cloudevents.ApplicationJSON, ev); err != nil {
		return e, fmt.Errorf("set event data: %w", err)
	}
	return e, e.Validate()
}

func (n *CloudEventsNotifier) Notify(ctx context.Context, ev ParseEvent) error {
	e, err := ToCloudEvent(ev, n.source)
	if err != nil {
		return err
	}
	res := n.client.Send(ctx, e)
	if cloudevents.IsACK(res) {
		n.logger.Debug("events.delivered", "event_id", ev.ID, "type", e.Type(), "parse_id", ev.ParseID)
		return nil
	}
	transient := cloudevents.IsUndelivered(res)
	var httpResult *cehttp.Result
	if cloudevents.ResultAs(res, &httpResult) {
		transient = httpResult.StatusCode >= http.StatusInternalServerError ||
			httpResult.StatusCode == http.StatusTooManyRequests
	}
	return &deliveryError{err: fmt.Errorf("deliver %s: %w", e.Type(), res), transient: transient}
}
