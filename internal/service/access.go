package service

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/wenwu/saas-platform/proxy-provisioner/internal/config"
	"github.com/wenwu/saas-platform/proxy-provisioner/internal/models"
)

// BuildAccessURIs renders client-importable connection links for a config
// on its gateway server. Returns nil when the config has no remote client
// (not yet provisioned, or already cleaned up remotely).
func BuildAccessURIs(cfg *models.Config, srv *models.Server, ports config.PortsConfig) []models.AccessURI {
	if cfg.RemoteClientID == nil || *cfg.RemoteClientID == "" || srv == nil {
		return nil
	}
	remoteID := *cfg.RemoteClientID
	tag := url.PathEscape(srv.Name)

	var uri string
	switch cfg.Protocol {
	case models.ProtocolVless:
		uri = fmt.Sprintf("vless://%s@%s:%d?encryption=none&type=tcp#%s",
			remoteID, srv.Host, ports.Vless, tag)
	case models.ProtocolVmess:
		payload, err := json.Marshal(map[string]interface{}{
			"v":    "2",
			"ps":   srv.Name,
			"add":  srv.Host,
			"port": ports.Vmess,
			"id":   remoteID,
			"aid":  "0",
			"net":  "tcp",
			"tls":  "",
		})
		if err != nil {
			return nil
		}
		uri = "vmess://" + base64.StdEncoding.EncodeToString(payload)
	case models.ProtocolShadowsocks:
		userinfo := base64.URLEncoding.EncodeToString(
			[]byte("chacha20-ietf-poly1305:" + remoteID))
		uri = fmt.Sprintf("ss://%s@%s:%d#%s", userinfo, srv.Host, ports.Shadowsocks, tag)
	default:
		return nil
	}

	return []models.AccessURI{{
		Protocol: string(cfg.Protocol),
		URI:      uri,
		Server:   srv.Name,
	}}
}
