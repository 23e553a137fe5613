package main

import (
	"fmt"
	"net/http"
	"strings"

	"iapkeeper/internal/adminauth"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Frame-Options", "deny")
		next.ServeHTTP(w, r)
	})
}

func makeResponseJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		app.logger.Infof("%s - %s %s %s", r.RemoteAddr, r.Proto, r.Method, r.URL.RequestURI())
		next.ServeHTTP(w, r)
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				app.serverError(w, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// requireAdmin lets requests through that carry an operator token signed
// with the configured admin secret.
func (app *application) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := app.cfg.Server.AdminSecret
		if secret == "" {
			app.clientError(w, http.StatusForbidden, "admin routes are disabled")
			return
		}
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			app.clientError(w, http.StatusUnauthorized, "authorization header missing or invalid")
			return
		}
		claims, err := adminauth.Verify([]byte(secret), strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			app.clientError(w, http.StatusUnauthorized, err.Error())
			return
		}
		app.logger.Infof("admin request by %s: %s %s", claims.Subject, r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}
