package handshake

import (
	"fmt"
	"log/slog"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/rpc"
)

// IdentityServerState enumerates the identity-server FSM's states (spec §4.3).
type IdentityServerState string

const (
	IdentityServerWaitingForBeginHandshake       IdentityServerState = "WaitingForBeginHandshake"
	IdentityServerGettingChallenge               IdentityServerState = "GettingChallenge"
	IdentityServerChallengeReady                  IdentityServerState = "ChallengeReady"
	IdentityServerWaitingForSendResponse          IdentityServerState = "WaitingForSendResponse"
	IdentityServerGettingChallengeVerification    IdentityServerState = "GettingChallengeVerification"
	IdentityServerChallengeVerificationReady      IdentityServerState = "ChallengeVerificationReady"
	IdentityServerChallengeVerificationResponseSent IdentityServerState = "ChallengeVerificationResponseSent"
	IdentityServerHandshakeComplete               IdentityServerState = "HandshakeComplete"
)

// IdentityServerFSM decides, per inbound identity connection, whether to
// issue a fresh endpoint key to the caller (spec §4.3). It implements
// rpc.ApiSet directly: the owning Context registers it with its session.
type IdentityServerFSM struct {
	session rpc.Session
	logger  *slog.Logger

	state        IdentityServerState
	done         bool
	pendingEvent *IdentityServerEvent

	serverServiceId identity.ServiceId
	serverCookie    identity.Cookie

	beginCookie rpc.RequestCookie
	sendCookie  rpc.RequestCookie

	clientServiceId     identity.ServiceId
	requestedEndpoint   string
	challengeDoc        bson.M
	challengeResponse   bson.M
	clientAuthPublicKey identity.AuthPublicKey

	flags      IdentityRejectionFlags
	endpointKey identity.SigningKey
}

// NewIdentityServerFSM constructs an identity-server FSM bound to session.
// serverServiceId is the identity service's own ServiceId, used to build the
// client proof the peer must have signed.
func NewIdentityServerFSM(session rpc.Session, serverServiceId identity.ServiceId, logger *slog.Logger) *IdentityServerFSM {
	if logger == nil {
		logger = slog.Default()
	}
	return &IdentityServerFSM{
		session:         session,
		logger:          logger,
		state:           IdentityServerWaitingForBeginHandshake,
		serverServiceId: serverServiceId,
	}
}

// Namespace implements rpc.ApiSet.
func (f *IdentityServerFSM) Namespace() string { return rpc.NamespaceIdentity }

// Done reports whether the FSM has reached a terminal state and its pending
// event (if any) has already been delivered.
func (f *IdentityServerFSM) Done() bool { return f.done }

// ExecFunction implements rpc.ApiSet.
func (f *IdentityServerFSM) ExecFunction(name string, version int, args bson.M, cookie rpc.RequestCookie) (rpc.ExecResult, bool) {
	switch f.state {
	case IdentityServerWaitingForBeginHandshake:
		return f.execBeginHandshake(name, args, cookie)
	case IdentityServerWaitingForSendResponse:
		return f.execSendResponse(name, args, cookie)
	default:
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
}

func (f *IdentityServerFSM) execBeginHandshake(name string, args bson.M, cookie rpc.RequestCookie) (rpc.ExecResult, bool) {
	if name != rpc.FuncBeginHandshake {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	var a rpc.IdentityBeginHandshakeArgs
	if err := rpc.FromBSON(args, &a); err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	if a.Version != rpc.ProtocolVersion {
		return rpc.Failure(rpc.ErrBadVersion), true
	}
	clientServiceId, err := identity.ParseServiceId(a.ClientIdentity)
	if err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}

	f.clientServiceId = clientServiceId
	f.requestedEndpoint = a.Endpoint
	f.beginCookie = cookie
	f.state = IdentityServerGettingChallenge
	f.pendingEvent = &IdentityServerEvent{
		Kind:              IdentityServerEndpointRequestReceived,
		ClientServiceId:   clientServiceId,
		RequestedEndpoint: a.Endpoint,
	}
	return rpc.ExecResult{}, false
}

func (f *IdentityServerFSM) execSendResponse(name string, args bson.M, cookie rpc.RequestCookie) (rpc.ExecResult, bool) {
	if name != rpc.FuncSendResponse {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	var a rpc.IdentitySendResponseArgs
	if err := rpc.FromBSON(args, &a); err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	if len(a.ClientCookie) != 32 || len(a.ClientIdentityProofSignature) != 64 ||
		len(a.ClientAuthorizationKey) != 32 || len(a.ClientAuthorizationSignature) != 64 {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}

	var clientCookie identity.Cookie
	copy(clientCookie[:], a.ClientCookie)
	var proofSig [64]byte
	copy(proofSig[:], a.ClientIdentityProofSignature)
	var authPub identity.AuthPublicKey
	copy(authPub[:], a.ClientAuthorizationKey)
	var authSig [64]byte
	copy(authSig[:], a.ClientAuthorizationSignature)

	proof, err := identity.BuildClientProof(identity.DomainIdentity, f.requestedEndpoint, f.clientServiceId, f.serverServiceId, clientCookie, f.serverCookie)
	if err != nil {
		return rpc.Failure(rpc.ErrInvalidArg), true
	}
	f.flags.ClientProofSignatureValid = f.clientServiceId.VerifyingKey().Verify(proof, proofSig)
	f.flags.ClientAuthSignatureValid = identity.VerifyX25519([]byte(f.clientServiceId.String()), authPub, a.ClientAuthorizationKeySignbit, authSig)

	f.clientAuthPublicKey = authPub
	f.sendCookie = cookie
	f.challengeResponse = a.ChallengeResponse
	f.state = IdentityServerGettingChallengeVerification
	f.pendingEvent = &IdentityServerEvent{
		Kind:              IdentityServerChallengeResponseReceived,
		ChallengeResponse: a.ChallengeResponse,
	}
	return rpc.ExecResult{}, false
}

// NextResult implements rpc.ApiSet: it drives the two deferred replies this
// FSM owes the peer (spec §9 "deferred RPC replies").
func (f *IdentityServerFSM) NextResult() (rpc.RequestCookie, rpc.ExecResult, bool) {
	switch f.state {
	case IdentityServerChallengeReady:
		m, err := rpc.ToBSON(rpc.IdentityBeginHandshakeReply{
			ServerCookie:      f.serverCookie[:],
			EndpointChallenge: f.challengeDoc,
		})
		if err != nil {
			f.logger.Error("identity server: marshal challenge reply", "error", err)
			return 0, rpc.ExecResult{}, false
		}
		res, err := rpc.SuccessDocument(m)
		if err != nil {
			f.logger.Error("identity server: build challenge reply", "error", err)
			return 0, rpc.ExecResult{}, false
		}
		cookie := f.beginCookie
		f.state = IdentityServerWaitingForSendResponse
		return cookie, res, true

	case IdentityServerChallengeVerificationReady:
		cookie := f.sendCookie
		if f.flags.Success() {
			endpointKey, err := identity.GenerateSigningKey()
			if err != nil {
				f.logger.Error("identity server: generate endpoint key", "error", err)
				f.state = IdentityServerChallengeVerificationResponseSent
				f.pendingEvent = &IdentityServerEvent{Kind: IdentityServerHandshakeFailed, Err: fmt.Errorf("identity server: %w", err)}
				return cookie, rpc.Failure(rpc.ErrFailure), true
			}
			f.endpointKey = endpointKey
			res, err := rpc.SuccessString(endpointKey.ServiceId().String())
			if err != nil {
				f.logger.Error("identity server: build success reply", "error", err)
			}
			f.state = IdentityServerChallengeVerificationResponseSent
			f.pendingEvent = &IdentityServerEvent{
				Kind:                IdentityServerHandshakeCompleted,
				EndpointPrivateKey:  endpointKey,
				EndpointName:        f.requestedEndpoint,
				ClientServiceId:     f.clientServiceId,
				ClientAuthPublicKey: f.clientAuthPublicKey,
			}
			return cookie, res, true
		}

		f.state = IdentityServerChallengeVerificationResponseSent
		f.pendingEvent = &IdentityServerEvent{Kind: IdentityServerHandshakeRejected, Flags: f.flags, ClientServiceId: f.clientServiceId}
		return cookie, rpc.Failure(rpc.ErrFailure), true

	default:
		return 0, rpc.ExecResult{}, false
	}
}

// SubmitEndpointRequestDecision is the application entry point answering an
// EndpointRequestReceived event (spec §4.3 submit_challenge). Legal only in
// GettingChallenge.
func (f *IdentityServerFSM) SubmitEndpointRequestDecision(clientAllowed, endpointSupported bool, challenge bson.M) error {
	if f.state != IdentityServerGettingChallenge {
		return fmt.Errorf("%w: submit_challenge in state %s", ErrIncorrectUsage, f.state)
	}
	serverCookie, err := identity.NewCookie()
	if err != nil {
		return fmt.Errorf("identity server: %w", err)
	}
	f.serverCookie = serverCookie
	f.flags.ClientAllowed = clientAllowed
	f.flags.ClientRequestedEndpointValid = endpointSupported
	f.challengeDoc = challenge
	f.state = IdentityServerChallengeReady
	return nil
}

// SubmitChallengeResponseVerdict is the application entry point answering a
// ChallengeResponseReceived event (spec §4.3 submit_challenge_verification).
// Legal only in GettingChallengeVerification.
func (f *IdentityServerFSM) SubmitChallengeResponseVerdict(valid bool) error {
	if f.state != IdentityServerGettingChallengeVerification {
		return fmt.Errorf("%w: submit_challenge_verification in state %s", ErrIncorrectUsage, f.state)
	}
	f.flags.ChallengeResponseValid = valid
	f.state = IdentityServerChallengeVerificationReady
	return nil
}

// Update drains any event the FSM has queued for the application this tick.
func (f *IdentityServerFSM) Update() (IdentityServerEvent, bool) {
	if f.done || f.pendingEvent == nil {
		return IdentityServerEvent{}, false
	}
	ev := *f.pendingEvent
	f.pendingEvent = nil
	switch ev.Kind {
	case IdentityServerHandshakeCompleted, IdentityServerHandshakeRejected, IdentityServerHandshakeFailed:
		f.done = true
		f.state = IdentityServerHandshakeComplete
	}
	return ev, true
}
