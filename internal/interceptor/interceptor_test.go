package interceptor

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/National-Digital-Twin/federator-sub003/internal/auth"
	"github.com/National-Digital-Twin/federator-sub003/internal/kv"
	"github.com/National-Digital-Twin/federator-sub003/internal/model"
	"github.com/National-Digital-Twin/federator-sub003/internal/producerconfig"
	"github.com/National-Digital-Twin/federator-sub003/internal/wire"
	"github.com/National-Digital-Twin/federator-sub003/pkg/logger"
)

type fakeServerStream struct {
	ctx    context.Context
	toRecv *wire.TopicRequest
}

func (f *fakeServerStream) SetHeader(metadata.MD) error  { return nil }
func (f *fakeServerStream) SendHeader(metadata.MD) error { return nil }
func (f *fakeServerStream) SetTrailer(metadata.MD)       {}
func (f *fakeServerStream) Context() context.Context     { return f.ctx }
func (f *fakeServerStream) SendMsg(m interface{}) error  { return nil }
func (f *fakeServerStream) RecvMsg(m interface{}) error {
	req := m.(*wire.TopicRequest)
	*req = *f.toRecv
	return nil
}

func newTestAuthService(t *testing.T, key *rsa.PrivateKey) *auth.Service {
	t.Helper()
	jwksServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksDocument(key, "kid-1"))
	}))
	t.Cleanup(jwksServer.Close)

	mr := miniredis.RunT(t)
	cfg := kv.DefaultConfig()
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port
	store, err := kv.New(context.Background(), cfg, logger.New("interceptor-test"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	svc, err := auth.New(auth.Config{JWKSURL: jwksServer.URL}, jwksServer.Client(), store, logger.New("interceptor-test"))
	require.NoError(t, err)
	return svc
}

func signToken(t *testing.T, key *rsa.PrivateKey, azp string, aud []string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, auth.Claims{
		AuthorizedParty:  azp,
		RegisteredClaims: jwt.RegisteredClaims{Audience: aud},
	})
	token.Header["kid"] = "kid-1"
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

func jwksDocument(key *rsa.PrivateKey, kid string) map[string]interface{} {
	n := base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes())
	e := base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes())
	return map[string]interface{}{
		"keys": []map[string]interface{}{
			{"kty": "RSA", "kid": kid, "use": "sig", "alg": "RS256", "n": n, "e": e},
		},
	}
}

func contextWithBearer(token string) context.Context {
	if token == "" {
		return context.Background()
	}
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func echoHandler(handlerInvoked *bool) grpc.StreamHandler {
	return func(srv interface{}, stream grpc.ServerStream) error {
		m := new(wire.TopicRequest)
		if err := stream.RecvMsg(m); err != nil {
			return err
		}
		*handlerInvoked = true
		return nil
	}
}

func TestServerInterceptorRejectsMissingBearerToken(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	svc := newTestAuthService(t, key)
	cfg := producerconfig.New("http://unused", time.Second, logger.New("interceptor-test"))

	var invoked bool
	interceptor := AuthStreamServerInterceptor(svc, cfg, "server-client")
	stream := &fakeServerStream{ctx: contextWithBearer(""), toRecv: &wire.TopicRequest{Topic: "orders"}}
	err = interceptor(nil, stream, &grpc.StreamServerInfo{}, echoHandler(&invoked))

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unauthenticated, st.Code())
	require.False(t, invoked)
}

func TestServerInterceptorRejectsAudienceMismatchWithoutInvokingHandler(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	svc := newTestAuthService(t, key)
	cfg := producerconfig.New("http://unused", time.Second, logger.New("interceptor-test"))

	var invoked bool
	token := signToken(t, key, "consumer-1", []string{"someone-else"})
	interceptor := AuthStreamServerInterceptor(svc, cfg, "server-client")
	stream := &fakeServerStream{ctx: contextWithBearer(token), toRecv: &wire.TopicRequest{Topic: "orders"}}
	err = interceptor(nil, stream, &grpc.StreamServerInfo{}, echoHandler(&invoked))

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.Unauthenticated, st.Code())
	require.False(t, invoked, "handler must not run when the audience check fails")
}

func TestServerInterceptorRejectsUnauthorizedTopicAndAttachesClientID(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	svc := newTestAuthService(t, key)
	cfg := producerconfig.New("http://unused", time.Second, logger.New("interceptor-test"))
	// No refresh: the snapshot stays empty, so every topic is unauthorized.

	token := signToken(t, key, "consumer-1", []string{"server-client"})

	var gotClientID string
	handler := func(srv interface{}, stream grpc.ServerStream) error {
		gotClientID, _ = ClientIDFromContext(stream.Context())
		m := new(wire.TopicRequest)
		return stream.RecvMsg(m)
	}

	interceptor := AuthStreamServerInterceptor(svc, cfg, "server-client")
	stream := &fakeServerStream{ctx: contextWithBearer(token), toRecv: &wire.TopicRequest{Topic: "orders"}}
	err = interceptor(nil, stream, &grpc.StreamServerInfo{}, handler)

	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	require.Equal(t, codes.PermissionDenied, st.Code())
	require.Equal(t, "consumer-1", gotClientID)
}

func TestServerInterceptorAllowsAuthorizedTopic(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	svc := newTestAuthService(t, key)
	cfg := newAuthorizedStore(t, "consumer-1", "orders")

	token := signToken(t, key, "consumer-1", []string{"server-client"})
	var invoked bool
	interceptor := AuthStreamServerInterceptor(svc, cfg, "server-client")
	stream := &fakeServerStream{ctx: contextWithBearer(token), toRecv: &wire.TopicRequest{Topic: "orders"}}
	err = interceptor(nil, stream, &grpc.StreamServerInfo{}, echoHandler(&invoked))

	require.NoError(t, err)
	require.True(t, invoked)
}

// newAuthorizedStore builds a producerconfig.Store refreshed once against a
// one-shot test server that authorises idpClientID on topic.
func newAuthorizedStore(t *testing.T, idpClientID, topic string) *producerconfig.Store {
	t.Helper()
	doc := model.ProducerConfig{Producers: []model.Producer{{
		Name: "org-a",
		Products: []model.Product{{
			Name: "orders-feed", Topic: topic,
			Consumers: []model.Consumer{{IDPClientID: idpClientID}},
		}},
	}}}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(doc)
	}))
	t.Cleanup(server.Close)

	store := producerconfig.New(server.URL, 5*time.Second, logger.New("interceptor-test"))
	require.NoError(t, store.Refresh(context.Background()))
	return store
}

func TestClientInterceptorAttachesBearerToken(t *testing.T) {
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "tok-xyz", "expires_in": 60})
	}))
	defer server.Close()

	mr := miniredis.RunT(t)
	cfg := kv.DefaultConfig()
	cfg.Host = mr.Host()
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Port = port
	store, err := kv.New(context.Background(), cfg, logger.New("interceptor-test"))
	require.NoError(t, err)
	defer store.Close()

	svc, err := auth.New(auth.Config{TokenURL: server.URL, ClientID: "client-a", RequestTimeout: 5 * time.Second}, server.Client(), store, logger.New("interceptor-test"))
	require.NoError(t, err)

	interceptor := AuthStreamClientInterceptor(svc, "node-1")
	streamer := func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		md, _ := metadata.FromOutgoingContext(ctx)
		vals := md.Get("authorization")
		if len(vals) > 0 {
			gotAuth = vals[0]
		}
		return nil, nil
	}

	_, err = interceptor(context.Background(), &grpc.StreamDesc{}, nil, "/svc/Method", streamer)
	require.NoError(t, err)
	require.Equal(t, "Bearer tok-xyz", gotAuth)
}
