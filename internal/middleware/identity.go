package middleware

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

const clientIPKey = "client_ip"

// Forwarding headers honoured when the peer is a trusted proxy, nearest hop last.
var remoteIPHeaders = []string{"X-Forwarded-For", "X-Real-IP"}

// Platforms whose edge sets a client ip header that replaces the proxy chain.
var trustedPlatforms = map[string]string{
	"cloudflare": gin.PlatformCloudflare,
	"google":     gin.PlatformGoogleAppEngine,
}

// TrustProxies configures how engine resolves client addresses. Forwarding headers are
// only read when the socket peer falls inside trustedProxies; with none configured the
// socket address is the identity. A non-empty platform trusts that platform's header
// unconditionally and must only be set when the gateway is reachable solely through it.
func TrustProxies(engine *gin.Engine, trustedProxies []string, platform string) error {
	if err := engine.SetTrustedProxies(trustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}
	engine.RemoteIPHeaders = remoteIPHeaders
	engine.ForwardedByClientIP = true

	engine.TrustedPlatform = ""
	if platform != "" {
		header, ok := trustedPlatforms[strings.ToLower(platform)]
		if !ok {
			return fmt.Errorf("unknown trusted platform %q", platform)
		}
		engine.TrustedPlatform = header
	}
	return nil
}

// ClientIP is the rate-limit and ad subject identity for the request.
func ClientIP(c *gin.Context) string {
	if ip := c.GetString(clientIPKey); ip != "" {
		return ip
	}
	return c.ClientIP()
}

// Identity resolves the client ip once per request.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(clientIPKey, ClientIP(c))
		c.Next()
	}
}
