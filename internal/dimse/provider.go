package dimse

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"
)

// Model is the information model a query or retrieve runs against
type Model string

const (
	ModelPatientRoot      Model = "patient"
	ModelStudyRoot        Model = "study"
	ModelPatientStudyOnly Model = "psonly"
	ModelWorklist         Model = "worklist"
)

// ParseModel accepts the model names and their long forms
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "patient", "patient-root", "patientroot":
		return ModelPatientRoot, nil
	case "study", "study-root", "studyroot":
		return ModelStudyRoot, nil
	case "psonly", "patient-study-only", "patientstudyonly":
		return ModelPatientStudyOnly, nil
	case "worklist", "modality-worklist", "mwl":
		return ModelWorklist, nil
	default:
		return "", fmt.Errorf("unknown information model %q", s)
	}
}

// Transfer syntaxes accepted by the storage listener
const (
	ImplicitVRLittleEndian         = "1.2.840.10008.1.2"
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
	ExplicitVRBigEndian            = "1.2.840.10008.1.2.2"
	JPEGBaseline8Bit               = "1.2.840.10008.1.2.4.50"
	JPEGLosslessSV1                = "1.2.840.10008.1.2.4.70"
	JPEGLSLossless                 = "1.2.840.10008.1.2.4.80"
	JPEGLSNearLossless             = "1.2.840.10008.1.2.4.81"
	JPEG2000Lossless               = "1.2.840.10008.1.2.4.90"
	JPEG2000                       = "1.2.840.10008.1.2.4.91"
	RLELossless                    = "1.2.840.10008.1.2.5"
)

// SupportedTransferSyntaxes is the list the listener advertises
var SupportedTransferSyntaxes = []string{
	ImplicitVRLittleEndian,
	ExplicitVRLittleEndian,
	DeflatedExplicitVRLittleEndian,
	ExplicitVRBigEndian,
	JPEGBaseline8Bit,
	JPEGLosslessSV1,
	JPEGLSLossless,
	JPEGLSNearLossless,
	JPEG2000Lossless,
	JPEG2000,
	RLELossless,
}

// Peer addresses a remote application entity
type Peer struct {
	Host    string
	Port    int
	AETitle string
	// CallingAE is our own title on outbound associations
	CallingAE string
}

// Address returns host:port
func (p Peer) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

func (p Peer) String() string {
	return fmt.Sprintf("%s@%s", p.AETitle, p.Address())
}

// ListenConfig configures the inbound storage listener
type ListenConfig struct {
	AETitle          string
	Port             int
	TransferSyntaxes []string
}

// Response is one reply of a streamed exchange. A nil Status means the
// connection failed before the peer answered.
type Response struct {
	Status     *Status
	Identifier *Dataset
}

// Session is one association with a peer. It is not safe for concurrent use.
type Session interface {
	Established() bool
	Verify(ctx context.Context) (*Status, error)
	// Query streams pending matches followed by one terminal reply, then closes the channel
	Query(ctx context.Context, identifier *Dataset, model Model) (<-chan Response, error)
	// Retrieve asks the peer to send matching instances to destinationAE
	Retrieve(ctx context.Context, identifier *Dataset, destinationAE string, model Model) (<-chan Response, error)
	Release() error
}

// StoreEvent is one inbound storage request
type StoreEvent interface {
	Dataset() (*Dataset, error)
	TransferSyntax() string
	// WriteTo encodes the payload as a file with file meta information
	WriteTo(w io.Writer) (int64, error)
}

// Handlers are invoked by the listener on its network goroutine and return a status code
type Handlers struct {
	OnStore  func(StoreEvent) uint16
	OnVerify func() uint16
}

// Server is a running storage listener
type Server interface {
	Shutdown() error
}

// Codec reads and rewrites files produced by the provider
type Codec interface {
	ReadFile(path string) (*Dataset, error)
	// Decompress rewrites the file with uncompressed pixel data
	Decompress(path string) error
}

// Provider is a network service provider implementation
type Provider interface {
	Establish(ctx context.Context, peer Peer) (Session, error)
	Listen(ctx context.Context, cfg ListenConfig, handlers Handlers) (Server, error)
	Codec() Codec
}

// ProviderConfig carries association parameters shared by all providers
type ProviderConfig struct {
	MaxPDU  int
	Timeout time.Duration
}
