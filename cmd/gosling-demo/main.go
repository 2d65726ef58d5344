// Command gosling-demo reproduces the original source's two-peer walkthrough:
// Pat connects to Alice's identity service, requests an endpoint, and the two
// exchange "Hello World!\n" over the resulting endpoint channel — entirely
// in-process, over transport/mock, with no real onion-routing network
// required (gosling.rs's own integration test runs the identical exchange).
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.mongodb.org/mongo-driver/bson"

	gosling "github.com/pcwizz/gosling-go"
	"github.com/pcwizz/gosling-go/identity"
	"github.com/pcwizz/gosling-go/transport/mock"
)

var (
	endpointName string
	channelName  string
	timeout      time.Duration
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gosling-demo",
		Short: "Walk through a full identity + endpoint handshake between two peers",
		Long: `gosling-demo runs Alice (an identity server offering one endpoint) and
Pat (an identity client) against an in-process mock transport, drives both
peers' Context.Update loops to completion, and exchanges one line of text
over the resulting endpoint channel.`,
		RunE: runDemo,
	}
	root.Flags().StringVar(&endpointName, "endpoint", "endpoint", "endpoint name Pat requests from Alice")
	root.Flags().StringVar(&channelName, "channel", "channel", "channel name Pat opens on the endpoint")
	root.Flags().Duration("timeout", 10*time.Second, "overall deadline for the handshake walkthrough")

	viper.SetEnvPrefix("GOSLING_DEMO")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("timeout", root.Flags().Lookup("timeout"))

	return root
}

func runDemo(cmd *cobra.Command, args []string) error {
	timeout = viper.GetDuration("timeout")
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	network := mock.NewNetwork()
	aliceTransport := mock.New(network)
	patTransport := mock.New(network)

	aliceKey, err := identity.GenerateSigningKey()
	if err != nil {
		return fmt.Errorf("generate alice's identity key: %w", err)
	}
	patKey, err := identity.GenerateSigningKey()
	if err != nil {
		return fmt.Errorf("generate pat's identity key: %w", err)
	}

	alice := gosling.NewContext(aliceTransport, aliceKey, 1, 2, gosling.WithLogger(logger))
	pat := gosling.NewContext(patTransport, patKey, 1, 2, gosling.WithLogger(logger))

	if err := alice.Bootstrap(); err != nil {
		return fmt.Errorf("alice bootstrap: %w", err)
	}
	if err := pat.Bootstrap(); err != nil {
		return fmt.Errorf("pat bootstrap: %w", err)
	}
	alice.Update()
	pat.Update()

	if err := alice.IdentityServerStart(); err != nil {
		return fmt.Errorf("alice identity_server_start: %w", err)
	}
	fmt.Printf("Alice: identity service running at %s\n", alice.IdentityServiceId())

	patHandle, err := pat.IdentityClientBeginHandshake(alice.IdentityServiceId(), endpointName)
	if err != nil {
		return fmt.Errorf("pat identity_client_begin_handshake: %w", err)
	}
	fmt.Printf("Pat: identity handshake begun, handle %d\n", patHandle)

	deadline := time.Now().Add(timeout)

	var aliceEndpointServiceId identity.ServiceId
	var aliceAuthPub identity.AuthPublicKey
	var aliceEndpointStarted bool
	var aliceStream, patStream io.ReadWriteCloser

	for (aliceStream == nil || patStream == nil) && time.Now().Before(deadline) {
		for _, ev := range alice.Update() {
			switch ev.Kind {
			case gosling.EventIdentityServerEndpointRequestReceived:
				fmt.Printf("Alice: endpoint request received, endpoint=%q from %s\n", ev.RequestedEndpoint, ev.ClientServiceId)
				supported := ev.RequestedEndpoint == endpointName
				if err := alice.IdentityServerSubmitEndpointRequestDecision(ev.Handle, true, supported, bson.M{}); err != nil {
					return fmt.Errorf("alice submit endpoint decision: %w", err)
				}
			case gosling.EventIdentityServerChallengeResponseReceived:
				fmt.Println("Alice: challenge response received, accepting")
				if err := alice.IdentityServerSubmitChallengeResponseVerdict(ev.Handle, true); err != nil {
					return fmt.Errorf("alice submit challenge verdict: %w", err)
				}
			case gosling.EventIdentityServerHandshakeCompleted:
				fmt.Printf("Alice: endpoint request handled, starting endpoint %q for %s\n", ev.EndpointName, ev.ClientServiceId)
				aliceAuthPub = ev.ClientAuthPublicKey
				endpointServiceId, err := alice.EndpointServerStart(ev.EndpointPrivateKey, ev.EndpointName, ev.ClientServiceId, aliceAuthPub)
				if err != nil {
					return fmt.Errorf("alice endpoint_server_start: %w", err)
				}
				aliceEndpointServiceId = endpointServiceId
				aliceEndpointStarted = true
				fmt.Printf("Alice: endpoint service running at %s\n", aliceEndpointServiceId)
			case gosling.EventIdentityServerHandshakeRejected:
				return fmt.Errorf("alice rejected pat's identity handshake: %+v", ev.IdentityFlags)
			case gosling.EventIdentityServerHandshakeFailed:
				return fmt.Errorf("alice identity handshake failed: %w", ev.Err)
			case gosling.EventEndpointServerHandshakeCompleted:
				fmt.Printf("Alice: endpoint channel %q accepted from %s\n", ev.ChannelName, ev.ClientServiceId)
				aliceStream = ev.Stream
			case gosling.EventEndpointServerHandshakeRejected:
				return fmt.Errorf("alice rejected pat's endpoint handshake: %+v", ev.EndpointFlags)
			case gosling.EventEndpointServerHandshakeFailed:
				return fmt.Errorf("alice endpoint handshake failed: %w", ev.Err)
			case gosling.EventTransportLog:
				fmt.Println("--- ALICE ---", ev.LogLine)
			}
		}

		for _, ev := range pat.Update() {
			switch ev.Kind {
			case gosling.EventIdentityClientChallengeReceived:
				fmt.Printf("Pat: challenge request received for endpoint %q\n", ev.EndpointName)
				if err := pat.IdentityClientSubmitChallengeResponse(ev.Handle, bson.M{}); err != nil {
					return fmt.Errorf("pat submit challenge response: %w", err)
				}
			case gosling.EventIdentityClientHandshakeCompleted:
				fmt.Printf("Pat: endpoint request succeeded, endpoint=%s at %s\n", ev.EndpointName, ev.EndpointServiceId)
				if _, err := pat.EndpointClientBeginHandshake(ev.EndpointServiceId, ev.ClientAuthPrivateKey, channelName); err != nil {
					return fmt.Errorf("pat endpoint_client_begin_handshake: %w", err)
				}
			case gosling.EventIdentityClientHandshakeFailed:
				return fmt.Errorf("pat identity handshake failed: %w", ev.Err)
			case gosling.EventEndpointClientHandshakeCompleted:
				fmt.Printf("Pat: endpoint channel %q opened\n", ev.ChannelName)
				patStream = ev.Stream
			case gosling.EventEndpointClientHandshakeFailed:
				return fmt.Errorf("pat endpoint handshake failed: %w", ev.Err)
			case gosling.EventTransportLog:
				fmt.Println("--- PAT ---", ev.LogLine)
			}
		}
	}

	if !aliceEndpointStarted || aliceStream == nil || patStream == nil {
		return fmt.Errorf("handshake did not complete within %s", timeout)
	}

	if _, err := patStream.Write([]byte("Hello World!\n")); err != nil {
		return fmt.Errorf("pat write: %w", err)
	}

	buf := make([]byte, 64)
	n, err := aliceStream.Read(buf)
	if err != nil {
		return fmt.Errorf("alice read: %w", err)
	}
	response := string(buf[:n])
	fmt.Printf("Alice received: %q\n", response)
	if response != "Hello World!\n" {
		return fmt.Errorf("unexpected response: %q", response)
	}

	fmt.Println("Demo complete.")
	return nil
}
