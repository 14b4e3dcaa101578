//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/katkisiz/api/internal/domain"
	pconfig "github.com/katkisiz/api/internal/platform/config"
	pfirestore "github.com/katkisiz/api/internal/platform/firestore"
	"github.com/katkisiz/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestAnalysisRepositoryIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}

	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })

	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    "analysis-test",
		EmulatorHost: endpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})

	repo, err := NewAnalysisRepository(provider)
	if err != nil {
		t.Fatalf("new analysis repository: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	base := time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)
	statuses := []domain.ProductStatus{domain.ProductStatusGreen, domain.ProductStatusRed, domain.ProductStatusYellow, domain.ProductStatusRed, domain.ProductStatusRed}
	for i, status := range statuses {
		analysis := sampleAnalysis(fmt.Sprintf("a%d", i), "u1", status, base.Add(time.Duration(i)*time.Minute))
		if err := repo.Insert(ctx, analysis); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	if err := repo.Insert(ctx, sampleAnalysis("other", "u2", domain.ProductStatusRed, base)); err != nil {
		t.Fatalf("insert other user: %v", err)
	}

	err = repo.Insert(ctx, sampleAnalysis("a0", "u1", domain.ProductStatusGreen, base))
	var repoErr repositories.RepositoryError
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	page, err := repo.ListByUser(ctx, "u1", repositories.AnalysisListFilter{Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("list first page: %v", err)
	}
	if ids := analysisIDs(page.Items); strings.Join(ids, ",") != "a4,a3" {
		t.Fatalf("unexpected first page %v", ids)
	}
	if page.NextPageToken == "" {
		t.Fatalf("expected next page token")
	}

	page, err = repo.ListByUser(ctx, "u1", repositories.AnalysisListFilter{Pagination: domain.Pagination{PageSize: 2, PageToken: page.NextPageToken}})
	if err != nil {
		t.Fatalf("list second page: %v", err)
	}
	if ids := analysisIDs(page.Items); strings.Join(ids, ",") != "a2,a1" {
		t.Fatalf("unexpected second page %v", ids)
	}

	reds, err := repo.ListByUser(ctx, "u1", repositories.AnalysisListFilter{
		Status:     domain.ProductStatusRed,
		Pagination: domain.Pagination{PageSize: 10},
	})
	if err != nil {
		t.Fatalf("list red: %v", err)
	}
	if ids := analysisIDs(reds.Items); strings.Join(ids, ",") != "a4,a3,a1" || reds.NextPageToken != "" {
		t.Fatalf("unexpected red listing %v token=%q", ids, reds.NextPageToken)
	}

	verifiedAt := base.Add(time.Hour)
	verified, err := repo.MarkVerified(ctx, "a1", repositories.AnalysisVerification{VerifiedBy: "expert-1", Note: "etiket doğrulandı", VerifiedAt: verifiedAt})
	if err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if !verified.Verified || verified.AnalyzedBy != domain.AnalyzedByExpert || verified.VerifiedBy != "expert-1" {
		t.Fatalf("unexpected verified analysis %+v", verified)
	}

	stored, err := repo.FindByID(ctx, "a1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if !stored.Verified || stored.VerifiedAt == nil || !stored.VerifiedAt.Equal(verifiedAt) {
		t.Fatalf("verification not persisted: %+v", stored)
	}
	if len(stored.Result.Additives) != 1 || stored.Result.Additives[0].Code != "E621" {
		t.Fatalf("unexpected additives %+v", stored.Result.Additives)
	}

	_, err = repo.MarkVerified(ctx, "missing", repositories.AnalysisVerification{VerifiedBy: "expert-1", VerifiedAt: verifiedAt})
	if !errors.As(err, &repoErr) || !repoErr.IsNotFound() {
		t.Fatalf("expected not found, got %v", err)
	}
}

func sampleAnalysis(id, userID string, status domain.ProductStatus, createdAt time.Time) domain.Analysis {
	return domain.Analysis{
		ID:         id,
		UserID:     userID,
		Source:     domain.AnalysisSourceText,
		AnalyzedBy: domain.AnalyzedByAI,
		Result: domain.AnalysisResult{
			Status:           status,
			Additives:        []domain.DetectedAdditive{{Code: "E621", Name: "Monosodyum Glutamat (MSG)", Category: domain.AdditiveCategoryAvoid, Known: true}},
			Ingredients:      []string{"su", "msg"},
			Counts:           domain.AdditiveCounts{Total: 1, Dangerous: 1},
			Score:            70,
			IngredientsFound: true,
			Locale:           "tr",
		},
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

func analysisIDs(items []domain.Analysis) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	args := []string{
		"run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080",
		"--quiet",
	}

	cmd := exec.Command("docker", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if id == "" {
		t.Fatalf("docker returned empty container id")
	}
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		t.Fatalf("docker daemon not available: %v", err)
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "docker", "stop", id)
	_ = cmd.Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
