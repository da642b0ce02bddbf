package middleware

import (
	"context"
	"net/http"
	"strings"

	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/service"
	"orgo-sync-server/pkg/response"
)

const (
	AgentNodeKey contextKey = "agentNode"
	NodeKeyKey   contextKey = "nodeKey"
)

// NodeKeyAuthMiddleware guards the agent API. It resolves an access key
// to its node and stashes both in the request context, with the node's
// tenant id under the same key the operator API uses.
func NodeKeyAuthMiddleware(keys *service.NodeKeyService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "OPTIONS" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				response.Unauthorized(w, "Authorization header required")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				response.Unauthorized(w, "Invalid authorization header format")
				return
			}

			plainKey := parts[1]
			if !strings.HasPrefix(plainKey, "nsk_") {
				response.Unauthorized(w, "Invalid node key format. Expected nsk_xxxxx")
				return
			}

			node, key, err := keys.Validate(r.Context(), plainKey)
			if err != nil {
				response.Unauthorized(w, "Invalid or revoked node key")
				return
			}

			go keys.MarkUsed(context.WithoutCancel(r.Context()), key)

			ctx := context.WithValue(r.Context(), TenantIDKey, node.TenantID)
			ctx = context.WithValue(ctx, AgentNodeKey, node)
			ctx = context.WithValue(ctx, NodeKeyKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NodeKeyScopeMiddleware requires the authenticated key to carry a
// scope. Runs after NodeKeyAuthMiddleware.
func NodeKeyScopeMiddleware(requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == "OPTIONS" {
				next.ServeHTTP(w, r)
				return
			}

			key := GetNodeKey(r)
			if key == nil {
				response.Forbidden(w, "Node key not found")
				return
			}

			hasScope := false
			for _, scope := range key.Scopes {
				if scope == requiredScope {
					hasScope = true
					break
				}
			}

			if !hasScope {
				response.Forbidden(w, "Node key does not have required scope: "+requiredScope)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func GetAgentNode(r *http.Request) *domain.OfflineNode {
	node, ok := r.Context().Value(AgentNodeKey).(*domain.OfflineNode)
	if !ok {
		return nil
	}
	return node
}

func GetNodeKey(r *http.Request) *domain.NodeKey {
	key, ok := r.Context().Value(NodeKeyKey).(*domain.NodeKey)
	if !ok {
		return nil
	}
	return key
}
