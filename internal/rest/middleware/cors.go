// Copyright 2021-present ZenBPM Contributors
// (based on git commit history).
//
// ZenBPM project is available under two licenses:
//  - SPDX-License-Identifier: AGPL-3.0-or-later (See LICENSE-AGPL.md)
//  - Enterprise License (See LICENSE-ENTERPRISE.md)

package middleware

import (
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/cors"
	"github.com/pbinitiative/zenexec/internal/config"
)

// Cors allows the configured origins to call the API. Credentials are only
// allowed for an explicit origin list.
func Cors(conf config.HttpServer) func(next http.Handler) http.Handler {
	origins := conf.CorsOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin", RequestIdHeader},
		ExposedHeaders:   []string{"Content-Length", RequestIdHeader},
		AllowCredentials: !slices.Contains(origins, "*"),
		MaxAge:           int((12 * time.Hour).Seconds()),
	})
}
