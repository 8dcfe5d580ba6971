package api

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/lysyi3m/cast-comb/app/config"
	"github.com/lysyi3m/cast-comb/app/database"
	"github.com/lysyi3m/cast-comb/app/fs"
	"github.com/lysyi3m/cast-comb/app/model"
	"github.com/lysyi3m/cast-comb/app/ytdl"
)

// maxTLSUploadSize caps certificate/key uploads at 10 MiB.
const maxTLSUploadSize = 10 << 20

// GetConfig returns the current effective configuration. The basic-auth
// password carries a `json:"-"` tag and is never returned; provider tokens
// and S3 access/secret keys are returned as stored.
func (h *Handler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.serviceConfig)
}

// UpdateConfigSection applies a partial update to one configuration section
// and rewrites the config file atomically. Most changes require a restart to
// take effect.
func (h *Handler) UpdateConfigSection(c *gin.Context) {
	section := c.Param("section")

	var err error
	switch section {
	case "server":
		var payload config.ServerConfig
		if err = c.ShouldBindJSON(&payload); err == nil {
			payload.Auth.Password = pickPassword(payload.Auth.Password, h.serviceConfig.Server.Auth.Password)
			h.serviceConfig.Server = payload
			err = h.configWriter.SetSection("server", payload)
		}
	case "auth":
		var payload config.AuthConfig
		if err = c.ShouldBindJSON(&payload); err == nil {
			payload.Password = pickPassword(payload.Password, h.serviceConfig.Server.Auth.Password)
			h.serviceConfig.Server.Auth = payload
			err = h.configWriter.SetSection("server", h.serviceConfig.Server)
		}
	case "storage":
		var payload fs.Config
		if err = c.ShouldBindJSON(&payload); err == nil {
			h.serviceConfig.Storage = payload
			err = h.configWriter.SetSection("storage", payload)
		}
	case "database":
		var payload database.Config
		if err = c.ShouldBindJSON(&payload); err == nil {
			h.serviceConfig.Database = payload
			err = h.configWriter.SetSection("database", payload)
		}
	case "downloader":
		var payload ytdl.Config
		if err = c.ShouldBindJSON(&payload); err == nil {
			h.serviceConfig.Downloader = payload
			err = h.configWriter.SetSection("downloader", payload)
		}
	case "tokens":
		var payload map[model.Provider]config.StringSlice
		if err = c.ShouldBindJSON(&payload); err == nil {
			h.serviceConfig.Tokens = payload
			err = h.configWriter.SetSection("tokens", payload)
		}
	case "history":
		var payload config.HistoryConfig
		if err = c.ShouldBindJSON(&payload); err == nil {
			h.serviceConfig.History = payload
			err = h.configWriter.SetSection("history", payload)
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unknown config section: %s", section)})
		return
	}

	if err != nil {
		slog.Error("Failed to update config section", "section", section, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to update configuration", "details": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": fmt.Sprintf("Section %q updated, restart to apply", section),
	})
}

// pickPassword keeps the stored password when the client sends an empty one,
// so the UI can submit the form without re-entering secrets.
func pickPassword(submitted, current string) string {
	if submitted == "" {
		return current
	}
	return submitted
}

// UploadTLSFiles accepts a multipart upload of a certificate and a private
// key. The key is written with owner-only permissions.
func (h *Handler) UploadTLSFiles(c *gin.Context) {
	if c.Request.ContentLength > maxTLSUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Upload too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTLSUploadSize)

	certFile, err := c.FormFile("certificate")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Certificate file is required"})
		return
	}

	keyFile, err := c.FormFile("key")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Key file is required"})
		return
	}

	tlsDir := filepath.Join(h.configWriter.GetConfigDir(), "tls")
	if err := os.MkdirAll(tlsDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create TLS directory"})
		return
	}

	certPath := filepath.Join(tlsDir, "server.crt")
	keyPath := filepath.Join(tlsDir, "server.key")

	if err := saveUploadedFile(certFile, certPath, 0o644); err != nil {
		slog.Error("Failed to save certificate", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save certificate"})
		return
	}

	if err := saveUploadedFile(keyFile, keyPath, 0o600); err != nil {
		slog.Error("Failed to save key", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save key"})
		return
	}

	h.serviceConfig.Server.CertificatePath = certPath
	h.serviceConfig.Server.KeyFilePath = keyPath

	if err := h.configWriter.SetSection("server", h.serviceConfig.Server); err != nil {
		slog.Error("Failed to persist TLS paths", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save configuration"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":          "TLS files uploaded, enable TLS and restart to apply",
		"certificate_path": certPath,
		"key_file_path":    keyPath,
	})
}

func saveUploadedFile(header *multipart.FileHeader, path string, perm os.FileMode) error {
	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}

	return nil
}

// Restart triggers the in-process shutdown signal. A supervisor (systemd,
// Docker) is expected to start the process again.
func (h *Handler) Restart(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "Shutting down for restart"})

	slog.Info("Restart requested via API")
	go h.restartFn()
}
