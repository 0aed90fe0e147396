package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/stayshield/disputes_backend/config"
	"bitbucket.org/stayshield/disputes_backend/models"
	"bitbucket.org/stayshield/disputes_backend/utils"
)

// Regression: five consecutive sync failures must trip the integration to
// error so the scheduler stops picking it up; a reset re-arms the counter.
func TestRecordSyncFailureTripsBreakerAtThreshold(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := integrationTestContext(t)
	db := config.GetDB()

	property, err := models.CreateProperty(ctx, &models.Property{
		Name:     "Breaker Hotel",
		Timezone: "UTC",
	})
	if err != nil {
		t.Fatalf("CreateProperty: %v", err)
	}
	ctx = utils.SetPropertyIdInContext(ctx, property.ID)

	integration := models.Integration{
		PropertyId: property.ID,
		VendorType: "mock",
		AuthType:   "api_key",
		Status:     models.IntegrationStatusConnected,
	}
	if err := db.WithContext(ctx).Create(&integration).Error; err != nil {
		t.Fatalf("create integration: %v", err)
	}

	for i := 1; i < 5; i++ {
		tripped, err := models.RecordSyncFailure(ctx, db, integration.ID, property.ID, 5)
		if err != nil {
			t.Fatalf("RecordSyncFailure #%d: %v", i, err)
		}
		if tripped {
			t.Fatalf("breaker tripped after %d failures, want 5", i)
		}
	}

	tripped, err := models.RecordSyncFailure(ctx, db, integration.ID, property.ID, 5)
	if err != nil {
		t.Fatalf("RecordSyncFailure #5: %v", err)
	}
	if !tripped {
		t.Fatal("breaker did not trip on the 5th consecutive failure")
	}

	reloaded, err := models.GetIntegration(ctx, db, property.ID, integration.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload integration: %v", err)
	}
	if reloaded.Status != models.IntegrationStatusError {
		t.Fatalf("status = %s, want %s", reloaded.Status, models.IntegrationStatusError)
	}
	if reloaded.ConsecutiveFailures != 5 {
		t.Fatalf("consecutive failures = %d, want 5", reloaded.ConsecutiveFailures)
	}

	if err := models.ResetSyncFailures(ctx, db, integration.ID, property.ID); err != nil {
		t.Fatalf("ResetSyncFailures: %v", err)
	}
	reloaded, err = models.GetIntegration(ctx, db, property.ID, integration.ID)
	if err != nil || reloaded == nil {
		t.Fatalf("reload integration: %v", err)
	}
	if reloaded.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures after reset = %d, want 0", reloaded.ConsecutiveFailures)
	}
}

// integrationTestContext boots dockerized MySQL and redis, wires env for the
// config.Connect* helpers, migrates the schema, and returns a user-scoped
// context. Shared by every DB-bound test in this package.
func integrationTestContext(t *testing.T) context.Context {
	t.Helper()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "disputes_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	if config.GetDB() == nil {
		t.Fatal("db is nil after ConnectDatabaseWithRetry")
	}
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUsernameInContext(ctx, "test@local")
	return ctx
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("disputes-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("disputes-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=disputes_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
