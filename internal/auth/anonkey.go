package auth

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AnonKeyReport describes the public anon key without verifying its signature.
type AnonKeyReport struct {
	Valid      bool       `json:"valid"`
	ProjectRef string     `json:"project_ref,omitempty"`
	Role       string     `json:"role,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	Error      string     `json:"error,omitempty"`
}

type anonKeyClaims struct {
	jwt.RegisteredClaims
	Ref  string `json:"ref"`
	Role string `json:"role"`
}

// InspectAnonKey decodes the anon key and checks it belongs to the project
// addressed by supabaseURL and has not expired.
func InspectAnonKey(anonKey, supabaseURL string, now time.Time) AnonKeyReport {
	if anonKey == "" || supabaseURL == "" {
		return AnonKeyReport{Error: "missing Supabase configuration"}
	}

	var claims anonKeyClaims
	if _, _, err := jwt.NewParser().ParseUnverified(anonKey, &claims); err != nil {
		return AnonKeyReport{Error: "invalid JWT token format"}
	}

	projectRef := ProjectRef(supabaseURL)
	if projectRef == "" {
		return AnonKeyReport{Error: "invalid Supabase URL format"}
	}
	if claims.Ref != projectRef {
		return AnonKeyReport{Error: fmt.Sprintf("API key mismatch: token is for project %q but URL is for project %q", claims.Ref, projectRef)}
	}

	report := AnonKeyReport{
		ProjectRef: claims.Ref,
		Role:       claims.Role,
	}
	if claims.ExpiresAt != nil {
		exp := claims.ExpiresAt.UTC()
		report.ExpiresAt = &exp
		if exp.Before(now) {
			report.Error = "API key has expired"
			return report
		}
	}
	report.Valid = true
	return report
}

// ProjectRef extracts <ref> from https://<ref>.supabase.co, or returns "".
func ProjectRef(supabaseURL string) string {
	u, err := url.Parse(supabaseURL)
	if err != nil || u.Scheme != "https" {
		return ""
	}
	ref, ok := strings.CutSuffix(u.Hostname(), ".supabase.co")
	if !ok || ref == "" || strings.Contains(ref, ".") {
		return ""
	}
	return ref
}
