// Package dimsetest provides a scripted in-memory peer for tests.
package dimsetest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/trobanga/pacsbatch/internal/dimse"
)

// Call records one exchange a session performed
type Call struct {
	Kind          string
	Identifier    *dimse.Dataset
	DestinationAE string
	Model         dimse.Model
}

// Provider is a scripted dimse.Provider. Zero values answer every exchange with success.
type Provider struct {
	// QueryFunc scripts the reply stream of a query
	QueryFunc func(identifier *dimse.Dataset, model dimse.Model) []dimse.Response
	// RetrieveFunc scripts the reply stream of a retrieve
	RetrieveFunc func(identifier *dimse.Dataset, destinationAE string, model dimse.Model) []dimse.Response
	// VerifyStatus is returned by Verify, nil means success
	VerifyStatus *dimse.Status
	// EstablishFailures makes the first n Establish calls fail
	EstablishFailures int
	// DropAfter makes a session report itself not established after n exchanges (0 = never)
	DropAfter int
	// BeforeExchange runs before every exchange, e.g. to cancel a context mid-batch
	BeforeExchange func(call Call)

	mu        sync.Mutex
	calls     []Call
	attempts  int
	sessions  int
	released  int
	handlers  *dimse.Handlers
	listening bool
	codec     *Codec
}

// Establish opens a scripted session
func (p *Provider) Establish(ctx context.Context, peer dimse.Peer) (dimse.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.attempts++
	if p.attempts <= p.EstablishFailures {
		return nil, fmt.Errorf("association with %s rejected", peer)
	}
	p.sessions++
	return &Session{provider: p, established: true}, nil
}

// Listen registers handlers. Use Deliver to simulate inbound transfers.
func (p *Provider) Listen(_ context.Context, _ dimse.ListenConfig, handlers dimse.Handlers) (dimse.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listening {
		return nil, errors.New("listener already running")
	}
	p.handlers = &handlers
	p.listening = true
	return &server{provider: p}, nil
}

// Codec returns a codec that reads files written by Event.WriteTo
func (p *Provider) Codec() dimse.Codec {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.codec == nil {
		p.codec = &Codec{}
	}
	return p.codec
}

// Deliver feeds an inbound store request to the registered handler
func (p *Provider) Deliver(ev dimse.StoreEvent) uint16 {
	p.mu.Lock()
	h := p.handlers
	listening := p.listening
	p.mu.Unlock()

	if h == nil || !listening || h.OnStore == nil {
		return dimse.StatusRefused
	}
	return h.OnStore(ev)
}

// Echo feeds an inbound verify request to the registered handler
func (p *Provider) Echo() uint16 {
	p.mu.Lock()
	h := p.handlers
	p.mu.Unlock()
	if h == nil || h.OnVerify == nil {
		return dimse.StatusRefused
	}
	return h.OnVerify()
}

// Listening reports whether a listener is running
func (p *Provider) Listening() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.listening
}

// Calls returns every exchange performed so far
func (p *Provider) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Call, len(p.calls))
	copy(out, p.calls)
	return out
}

// Sessions returns how many sessions were established
func (p *Provider) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessions
}

// Released returns how many sessions were released
func (p *Provider) Released() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.released
}

func (p *Provider) record(c Call) {
	if p.BeforeExchange != nil {
		p.BeforeExchange(c)
	}
	p.mu.Lock()
	p.calls = append(p.calls, c)
	p.mu.Unlock()
}

// Session is a scripted dimse.Session
type Session struct {
	provider    *Provider
	established bool
	exchanges   int
}

// Established reports whether the session is usable
func (s *Session) Established() bool {
	return s.established
}

func (s *Session) exchanged() {
	s.exchanges++
	if s.provider.DropAfter > 0 && s.exchanges >= s.provider.DropAfter {
		s.established = false
	}
}

// Verify answers with the provider's VerifyStatus
func (s *Session) Verify(ctx context.Context) (*dimse.Status, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.provider.record(Call{Kind: "verify"})
	defer s.exchanged()
	if s.provider.VerifyStatus != nil {
		return s.provider.VerifyStatus, nil
	}
	return dimse.NewStatus(dimse.StatusSuccess), nil
}

// Query streams the scripted replies
func (s *Session) Query(ctx context.Context, identifier *dimse.Dataset, model dimse.Model) (<-chan dimse.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.provider.record(Call{Kind: "query", Identifier: identifier.Clone(), Model: model})
	defer s.exchanged()

	replies := []dimse.Response{{Status: dimse.NewStatus(dimse.StatusSuccess)}}
	if s.provider.QueryFunc != nil {
		replies = s.provider.QueryFunc(identifier, model)
	}
	return stream(replies), nil
}

// Retrieve streams the scripted replies
func (s *Session) Retrieve(ctx context.Context, identifier *dimse.Dataset, destinationAE string, model dimse.Model) (<-chan dimse.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.provider.record(Call{Kind: "retrieve", Identifier: identifier.Clone(), DestinationAE: destinationAE, Model: model})
	defer s.exchanged()

	replies := []dimse.Response{{Status: dimse.NewStatus(dimse.StatusSuccess)}}
	if s.provider.RetrieveFunc != nil {
		replies = s.provider.RetrieveFunc(identifier, destinationAE, model)
	}
	return stream(replies), nil
}

// Release ends the session
func (s *Session) Release() error {
	s.established = false
	s.provider.mu.Lock()
	s.provider.released++
	s.provider.mu.Unlock()
	return nil
}

func stream(replies []dimse.Response) <-chan dimse.Response {
	ch := make(chan dimse.Response, len(replies))
	for _, r := range replies {
		ch <- r
	}
	close(ch)
	return ch
}

type server struct {
	provider *Provider
}

func (s *server) Shutdown() error {
	s.provider.mu.Lock()
	defer s.provider.mu.Unlock()
	s.provider.listening = false
	return nil
}

// Event is a scripted inbound store request
type Event struct {
	DS        *dimse.Dataset
	DecodeErr error
	WriteErr  error
	Syntax    string
}

// NewEvent builds an event carrying ds
func NewEvent(ds *dimse.Dataset) *Event {
	return &Event{DS: ds, Syntax: dimse.ExplicitVRLittleEndian}
}

// Dataset returns the decoded dataset or DecodeErr
func (e *Event) Dataset() (*dimse.Dataset, error) {
	if e.DecodeErr != nil {
		return nil, e.DecodeErr
	}
	return e.DS, nil
}

// TransferSyntax returns the negotiated syntax
func (e *Event) TransferSyntax() string { return e.Syntax }

// WriteTo encodes the dataset as JSON
func (e *Event) WriteTo(w io.Writer) (int64, error) {
	if e.WriteErr != nil {
		return 0, e.WriteErr
	}
	cw := &countingWriter{w: w}
	err := EncodeDataset(cw, e.DS)
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// Codec reads files written by Event.WriteTo
type Codec struct {
	mu           sync.Mutex
	decompressed []string
}

// ReadFile decodes a JSON-encoded dataset file
func (c *Codec) ReadFile(path string) (*dimse.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeDataset(f)
}

// Decompress rewrites the transfer syntax to explicit little endian
func (c *Codec) Decompress(path string) error {
	ds, err := c.ReadFile(path)
	if err != nil {
		return err
	}
	ds.Set(dimse.NewTag(0x0002, 0x0010), dimse.ExplicitVRLittleEndian)

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodeDataset(f, ds); err != nil {
		f.Close()
		return err
	}
	c.mu.Lock()
	c.decompressed = append(c.decompressed, path)
	c.mu.Unlock()
	return f.Close()
}

// Decompressed returns the paths Decompress rewrote
func (c *Codec) Decompressed() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.decompressed...)
}

type jsonElement struct {
	Tag   uint32          `json:"tag"`
	Value string          `json:"value,omitempty"`
	Items [][]jsonElement `json:"items,omitempty"`
}

func toJSON(ds *dimse.Dataset) []jsonElement {
	out := make([]jsonElement, 0, ds.Len())
	for _, e := range ds.Elements() {
		je := jsonElement{Tag: uint32(e.Tag), Value: e.Value}
		for _, item := range e.Items {
			je.Items = append(je.Items, toJSON(item))
		}
		out = append(out, je)
	}
	return out
}

func fromJSON(elems []jsonElement) *dimse.Dataset {
	ds := dimse.NewDataset()
	for _, je := range elems {
		if je.Items == nil {
			ds.Set(dimse.Tag(je.Tag), je.Value)
			continue
		}
		seq := ds.Sequence(dimse.Tag(je.Tag))
		for _, item := range je.Items {
			seq.Items = append(seq.Items, fromJSON(item))
		}
	}
	return ds
}

// EncodeDataset writes ds as JSON
func EncodeDataset(w io.Writer, ds *dimse.Dataset) error {
	return json.NewEncoder(w).Encode(toJSON(ds))
}

// DecodeDataset reads a dataset written by EncodeDataset
func DecodeDataset(r io.Reader) (*dimse.Dataset, error) {
	var elems []jsonElement
	if err := json.NewDecoder(r).Decode(&elems); err != nil {
		return nil, fmt.Errorf("decode dataset: %w", err)
	}
	return fromJSON(elems), nil
}

// Dataset builds a dataset from keyword/value pairs and panics on unknown keywords
func Dataset(kv ...string) *dimse.Dataset {
	ds := dimse.NewDataset()
	for i := 0; i+1 < len(kv); i += 2 {
		if err := ds.SetKeyword(kv[i], kv[i+1]); err != nil {
			panic(err)
		}
	}
	return ds
}

// Pending returns a pending reply carrying identifier
func Pending(identifier *dimse.Dataset) dimse.Response {
	return dimse.Response{Status: dimse.NewStatus(dimse.StatusPending), Identifier: identifier}
}

// Final returns a terminal reply with the given code
func Final(code uint16) dimse.Response {
	return dimse.Response{Status: dimse.NewStatus(code)}
}
