package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Truonghai2/BaultPHP-sub001/core/es"
)

const (
	defaultSubjectPrefix = "pagestore.es"
	defaultStreamName    = "PAGESTORE_ES"
	fetchBatch           = 100
	fetchWait            = time.Second
	maxIdleFetches       = 3
	defaultTimeout       = 10 * natsgo.DefaultTimeout
)

const (
	hdrAggregateType = "x-aggregate-type"
	hdrAggregateID   = "x-aggregate-id"
	hdrVersion       = "x-version"
)

type EventStoreConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix is the prefix of all stream subjects
	StreamName    string
	Storage       jetstream.StorageType
	Replicas      int
	// MaxAge and MaxBytes limit the stream. Zero keeps events forever.
	MaxAge   time.Duration
	MaxBytes int64
}

// commit is the payload of one stream message: every envelope of a single
// Append. Publishing a commit as one message makes it atomic.
type commit struct {
	Events []es.Envelope `json:"events"`
}

// EventStore keeps every stream as one JetStream subject
// <prefix>.<aggregate type>.<aggregate id>. All envelopes of a commit share
// the message sequence as their Seq.
type EventStore struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	stream        jetstream.Stream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewEventStore(cfg EventStoreConfig) (*EventStore, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, es.StorageError("connect", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, es.StorageError("jetstream", err)
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = defaultStreamName
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}

	log = log.With(
		slog.String("store", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subject_prefix", subjectPrefix),
	)

	log.Debug("ensuring stream")

	stream, streamInfo, err := ensureStream(js, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{subjectPrefix + ".>"},
		Retention:  jetstream.LimitsPolicy,
		Storage:    cfg.Storage,
		Replicas:   cfg.Replicas,
		MaxAge:     cfg.MaxAge,
		MaxBytes:   maxBytes,
		MaxMsgs:    -1,
		FirstSeq:   1,
		DenyDelete: true,
		DenyPurge:  true,
		Duplicates: 2 * time.Minute,
	})
	if err != nil {
		closeNatsCon()
		return nil, es.StorageError("ensure stream", err)
	}

	log.Debug("ensured", slog.Any("stream", streamInfo.Config.Name))

	return &EventStore{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		stream:        stream,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (e *EventStore) Close() error {
	e.js.CleanupPublisher()
	e.closeNc()
	e.log.Debug("closed event store")
	return nil
}

func (e *EventStore) Load(
	ctx context.Context,
	aggType string,
	aggID string,
	opts ...es.StoreLoadOption,
) (loadedEvents []es.Envelope, err error) {
	if aggType == "" {
		return nil, errors.New("aggregate type is empty")
	}
	if aggID == "" {
		return nil, errors.New("aggregate id is empty")
	}

	var (
		loadOpts = es.NewStoreLoadOptions(opts...)
		startAt  = time.Now()
		subj     = e.subjectForAggregate(aggType, aggID)
	)

	defer func() {
		if err == nil {
			e.log.Debug(
				"loaded events",
				slog.Group(
					"agg",
					slog.String("type", aggType),
					slog.String("id", aggID),
				),
				loadOpts.StartVersion.SlogAttrWithKey("start_version"),
				slog.Int("count", len(loadedEvents)),
				slog.Duration("duration", time.Since(startAt)),
			)
		}
	}()

	last, err := e.lastMsg(ctx, subj)
	if err != nil {
		return nil, es.StorageError("load", err)
	}
	if last == nil {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverAllPolicy,
		FilterSubjects: []string{subj},
	})
	if err != nil {
		return nil, es.StorageError("load", err)
	}

	err = e.consumeCommits(ctx, cc, last.Sequence, func(events []es.Envelope) bool {
		loadedEvents = append(loadedEvents, events...)
		return true
	})
	if err != nil {
		return nil, es.StorageError("load", err)
	}
	return es.FilterFromVersion(loadedEvents, loadOpts), nil
}

// ReadAll reads whole commit messages after afterSeq until limit events are
// collected or the end of the stream is reached.
func (e *EventStore) ReadAll(ctx context.Context, afterSeq uint64, limit int) (out []es.Envelope, err error) {
	info, err := e.stream.Info(ctx)
	if err != nil {
		return nil, es.StorageError("read all", err)
	}
	endSeq := info.State.LastSeq
	if endSeq <= afterSeq {
		return nil, nil
	}

	cc, err := e.stream.OrderedConsumer(ctx, jetstream.OrderedConsumerConfig{
		DeliverPolicy:  jetstream.DeliverByStartSequencePolicy,
		OptStartSeq:    afterSeq + 1,
		FilterSubjects: []string{e.subjectPrefix + ".>"},
	})
	if err != nil {
		return nil, es.StorageError("read all", err)
	}

	err = e.consumeCommits(ctx, cc, endSeq, func(events []es.Envelope) bool {
		out = append(out, events...)
		return limit <= 0 || len(out) < limit
	})
	if err != nil {
		return nil, es.StorageError("read all", err)
	}
	return out, nil
}

// consumeCommits fetches commit messages until endSeq is reached or yield
// returns false.
func (e *EventStore) consumeCommits(
	ctx context.Context,
	cc jetstream.Consumer,
	endSeq uint64,
	yield func([]es.Envelope) bool,
) error {
	idle := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		mb, err := cc.Fetch(fetchBatch, jetstream.FetchMaxWait(fetchWait))
		if err != nil {
			return err
		}

		empty := true
		for msg := range mb.Messages() {
			empty = false
			events, seq, err := decodeCommit(msg)
			if err != nil {
				return fmt.Errorf("failed to decode message: %w", err)
			}
			if !yield(events) || seq >= endSeq {
				return nil
			}
		}
		if err := mb.Error(); err != nil && !errors.Is(err, natsgo.ErrTimeout) {
			return err
		}
		if empty {
			if idle++; idle >= maxIdleFetches {
				return fmt.Errorf("stream ended before seq %d", endSeq)
			}
		}
	}
}

func (e *EventStore) Version(ctx context.Context, aggType, aggID string) (es.Version, error) {
	last, err := e.lastMsg(ctx, e.subjectForAggregate(aggType, aggID))
	if err != nil {
		return 0, es.StorageError("version", err)
	}
	return lastVersion(last)
}

func (e *EventStore) Append(
	ctx context.Context,
	aggType string,
	aggID string,
	expectedVersion es.Version,
	events []es.Envelope,
) (res *es.StoreAppendResult, err error) {
	if err = es.ValidateBatch(aggType, aggID, expectedVersion, events); err != nil {
		return nil, err
	}

	subject := e.subjectForAggregate(aggType, aggID)

	// the version check is made atomic by the expected subject sequence
	last, err := e.lastMsg(ctx, subject)
	if err != nil {
		return nil, es.StorageError("append", err)
	}
	current, err := lastVersion(last)
	if err != nil {
		return nil, es.StorageError("append", err)
	}
	if current != expectedVersion {
		return nil, &es.ConflictError{AggType: aggType, AggID: aggID, Expected: expectedVersion, Actual: current}
	}
	var lastSubjectSeq uint64
	if last != nil {
		lastSubjectSeq = last.Sequence
	}

	head := events[len(events)-1]
	msg := natsgo.NewMsg(subject)
	msg.Header.Set(hdrAggregateType, aggType)
	msg.Header.Set(hdrAggregateID, aggID)
	msg.Header.Set(hdrVersion, strconv.FormatUint(head.Version.Uint64(), 10))
	msg.Data, err = json.Marshal(commit{Events: events})
	if err != nil {
		return nil, err
	}

	ack, err := e.js.PublishMsg(
		ctx,
		msg,
		jetstream.WithMsgID(events[0].ID),
		jetstream.WithExpectStream(e.streamName),
		jetstream.WithExpectLastSequencePerSubject(lastSubjectSeq),
	)
	if isWrongLastSequence(err) {
		actual, verErr := e.Version(ctx, aggType, aggID)
		if verErr != nil {
			actual = expectedVersion
		}
		return nil, &es.ConflictError{AggType: aggType, AggID: aggID, Expected: expectedVersion, Actual: actual}
	}
	if err != nil {
		return nil, es.StorageError(fmt.Sprintf("append to subject %s", subject), err)
	}
	if ack.Duplicate {
		return nil, es.StorageError("append", fmt.Errorf("duplicate commit %s", events[0].ID))
	}

	e.log.Debug(
		"append",
		slog.Group(
			"agg",
			slog.String("type", aggType),
			slog.String("id", aggID),
		),
		head.Version.SlogAttr(),
		slog.Uint64("seq", ack.Sequence),
		slog.Int("num_events", len(events)),
	)

	return &es.StoreAppendResult{LastSeq: ack.Sequence, Version: head.Version}, nil
}

func isWrongLastSequence(err error) bool {
	var apiErr *jetstream.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == jetstream.JSErrCodeStreamWrongLastSequence
}

func ensureStream(js jetstream.JetStream, cfg jetstream.StreamConfig) (s jetstream.Stream, si *jetstream.StreamInfo, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	s, err = js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	si, err = s.Info(ctx)
	if err != nil {
		return nil, nil, err
	}
	return s, si, nil
}

func decodeCommit(msg jetstream.Msg) ([]es.Envelope, uint64, error) {
	md, err := msg.Metadata()
	if err != nil {
		return nil, 0, err
	}
	events, err := unmarshalCommit(msg.Data(), md.Sequence.Stream)
	return events, md.Sequence.Stream, err
}

func unmarshalCommit(data []byte, seq uint64) ([]es.Envelope, error) {
	var c commit
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	for i := range c.Events {
		c.Events[i].Seq = seq
	}
	return c.Events, nil
}

func (e *EventStore) lastMsg(ctx context.Context, subject string) (*jetstream.RawStreamMsg, error) {
	lm, err := e.stream.GetLastMsgForSubject(ctx, subject)
	if errors.Is(err, jetstream.ErrMsgNotFound) {
		return nil, nil
	}
	return lm, err
}

// lastVersion reads the stream version from the last commit of a subject.
func lastVersion(lm *jetstream.RawStreamMsg) (es.Version, error) {
	if lm == nil {
		return 0, nil
	}
	events, err := unmarshalCommit(lm.Data, lm.Sequence)
	if err != nil {
		return 0, fmt.Errorf("failed to unmarshal last message for subject %q: %w", lm.Subject, err)
	}
	if len(events) == 0 {
		return 0, fmt.Errorf("empty commit at seq %d", lm.Sequence)
	}
	return events[len(events)-1].Version, nil
}

var _ es.EventStore = (*EventStore)(nil)

// --- helpers ---

func (e *EventStore) subjectForAggregate(aggregateType, aggregateID string) string {
	return e.subjectPrefix + "." + subjectToken(aggregateType) + "." + subjectToken(aggregateID)
}

// subjectToken percent-encodes '%', the subject separators and wildcards and
// every control or space byte of s, so distinct values never share a token.
func subjectToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := range len(s) {
		c := s[i]
		if reservedSubjectByte(c) {
			fmt.Fprintf(&b, "%%%02X", c)
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

func reservedSubjectByte(c byte) bool {
	return c == '%' || c == '.' || c == '*' || c == '>' || c <= ' ' || c == 0x7f
}
