package rpc

import "go.mongodb.org/mongo-driver/bson"

// NamespaceIdentity and NamespaceEndpoint are the two RPC namespaces the
// protocol uses (spec §6).
const (
	NamespaceIdentity = "gosling_identity"
	NamespaceEndpoint = "gosling_endpoint"
)

// FuncBeginHandshake and FuncSendResponse are the two functions exposed on
// both namespaces.
const (
	FuncBeginHandshake = "begin_handshake"
	FuncSendResponse   = "send_response"
)

// ProtocolVersion is the fixed protocol version string every begin_handshake
// call carries (spec §6).
const ProtocolVersion = "0.0.0.1"

// IdentityBeginHandshakeArgs is gosling_identity.begin_handshake/0's argument
// document.
type IdentityBeginHandshakeArgs struct {
	Version        string `bson:"version"`
	ClientIdentity string `bson:"client_identity"`
	Endpoint       string `bson:"endpoint"`
}

// IdentityBeginHandshakeReply is its deferred reply.
type IdentityBeginHandshakeReply struct {
	ServerCookie     []byte `bson:"server_cookie"`
	EndpointChallenge bson.M `bson:"endpoint_challenge"`
}

// IdentitySendResponseArgs is gosling_identity.send_response/0's argument
// document.
type IdentitySendResponseArgs struct {
	ClientCookie                  []byte `bson:"client_cookie"`
	ClientIdentityProofSignature  []byte `bson:"client_identity_proof_signature"`
	ClientAuthorizationKey        []byte `bson:"client_authorization_key"`
	ClientAuthorizationKeySignbit bool   `bson:"client_authorization_key_signbit"`
	ClientAuthorizationSignature  []byte `bson:"client_authorization_signature"`
	ChallengeResponse             bson.M `bson:"challenge_response"`
}

// EndpointBeginHandshakeArgs is gosling_endpoint.begin_handshake/0's argument
// document.
type EndpointBeginHandshakeArgs struct {
	Version string `bson:"version"`
	Channel string `bson:"channel"`
}

// EndpointBeginHandshakeReply is its synchronous reply.
type EndpointBeginHandshakeReply struct {
	ServerCookie []byte `bson:"server_cookie"`
}

// EndpointSendResponseArgs is gosling_endpoint.send_response/0's argument
// document.
type EndpointSendResponseArgs struct {
	ClientCookie                 []byte `bson:"client_cookie"`
	ClientIdentity                string `bson:"client_identity"`
	ClientIdentityProofSignature []byte  `bson:"client_identity_proof_signature"`
}

// ToBSON marshals v (one of the Args types above) into a bson.M, the
// "document" wire shape the protocol message tables in spec.md §6 describe.
func ToBSON(v interface{}) (bson.M, error) {
	raw, err := bson.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m bson.M
	if err := bson.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// FromBSON unmarshals a bson.M produced by ToBSON (or received over a
// Session) back into a typed struct.
func FromBSON(m bson.M, v interface{}) error {
	raw, err := bson.Marshal(m)
	if err != nil {
		return err
	}
	return bson.Unmarshal(raw, v)
}
