package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"xdao.co/faceguard/raster"
)

func writeInput(t *testing.T, dir string) string {
	t.Helper()
	b, err := raster.New(32, 32, 3)
	if err != nil {
		t.Fatalf("raster.New: %v", err)
	}
	for i := range b.Pix {
		b.Pix[i] = byte(i * 13)
	}
	data, err := raster.PNG{}.Encode(b)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	path := filepath.Join(dir, "in.png")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func setupEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("FACEGUARD_SECRET", "cli-test-secret")
	t.Setenv("FACEGUARD_CONFIG", "")
	return t.TempDir()
}

func runOK(t *testing.T, args ...string) string {
	t.Helper()
	var out, errOut bytes.Buffer
	if code := run(args, &out, &errOut); code != 0 {
		t.Fatalf("run(%v) = %d\nstdout: %s\nstderr: %s", args, code, out.String(), errOut.String())
	}
	return out.String()
}

func TestRun_Usage(t *testing.T) {
	var out, errOut bytes.Buffer
	if code := run(nil, &out, &errOut); code != 2 {
		t.Fatalf("no args: code = %d", code)
	}
	if code := run([]string{"frobnicate"}, &out, &errOut); code != 2 {
		t.Fatalf("unknown command: code = %d", code)
	}
	out.Reset()
	if code := run([]string{"help"}, &out, &errOut); code != 0 || !strings.Contains(out.String(), "faceguard protect") {
		t.Fatalf("help: code = %d out = %s", code, out.String())
	}
}

func TestProtectVerify(t *testing.T) {
	dir := setupEnv(t)
	in := writeInput(t, dir)
	outPath := filepath.Join(dir, "out.png")

	got := runOK(t, "protect", "--in", in, "--out", outPath, "--owner", "alice")
	if !strings.Contains(got, "protection: standard") {
		t.Fatalf("unexpected protect output: %s", got)
	}
	rb, err := os.ReadFile(outPath + ".receipt.json")
	if err != nil {
		t.Fatalf("receipt not written: %v", err)
	}
	var r map[string]any
	if err := json.Unmarshal(rb, &r); err != nil {
		t.Fatalf("receipt is not JSON: %v", err)
	}
	if r["owner"] != "alice" {
		t.Fatalf("receipt owner = %v", r["owner"])
	}

	if got := runOK(t, "verify", "--in", outPath); !strings.Contains(got, "verdict: valid") {
		t.Fatalf("verify output: %s", got)
	}

	pub := strings.TrimSpace(runOK(t, "pubkey"))
	if !regexp.MustCompile(`^[0-9a-f]{64}$`).MatchString(pub) {
		t.Fatalf("pubkey output %q", pub)
	}
	runOK(t, "verify", "--in", outPath, "--pubkey", pub)

	text := runOK(t, "extract", "--in", outPath, "--seed", r["seed"].(string))
	if !strings.HasPrefix(text, "FG-WARN::FACEGUARD_DO_NOT_EDIT::"+r["seed"].(string)+"::") ||
		!strings.HasSuffix(strings.TrimSpace(text), "::alice") {
		t.Fatalf("extract output %q", text)
	}
}

func TestVerify_Tampered(t *testing.T) {
	dir := setupEnv(t)
	in := writeInput(t, dir)
	outPath := filepath.Join(dir, "out.png")
	runOK(t, "protect", "--in", in, "--out", outPath, "--owner", "alice")

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	data[len(data)/2] ^= 0x01
	if err := os.WriteFile(outPath, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	var out, errOut bytes.Buffer
	code := run([]string{"verify", "--in", outPath, "--receipt", outPath + ".receipt.json"}, &out, &errOut)
	if code != 1 || !strings.Contains(out.String(), "verdict: tampered") {
		t.Fatalf("code = %d out = %s", code, out.String())
	}
}

func TestProtect_MissingSecret(t *testing.T) {
	dir := setupEnv(t)
	t.Setenv("FACEGUARD_SECRET", "")
	in := writeInput(t, dir)
	var out, errOut bytes.Buffer
	code := run([]string{"protect", "--in", in, "--out", filepath.Join(dir, "o.png"), "--owner", "a"}, &out, &errOut)
	if code != 1 || !strings.Contains(errOut.String(), "FACEGUARD_SECRET") {
		t.Fatalf("code = %d stderr = %s", code, errOut.String())
	}
}

func TestDepositBundleFetch(t *testing.T) {
	dir := setupEnv(t)
	in := writeInput(t, dir)

	writeCfg := func(name, storeDir string) string {
		path := filepath.Join(dir, name)
		content := "log:\n  level: error\nstore:\n  backend: localfs\n  localfs_dir: " + storeDir + "\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		return path
	}
	srcCfg := writeCfg("src.yaml", filepath.Join(dir, "src-store"))
	dstCfg := writeCfg("dst.yaml", filepath.Join(dir, "dst-store"))

	got := runOK(t, "protect", "--config", srcCfg, "--in", in, "--out", filepath.Join(dir, "out.png"), "--owner", "alice", "--deposit")
	m := regexp.MustCompile(`cid: (\S+)`).FindStringSubmatch(got)
	if m == nil {
		t.Fatalf("no cid in output: %s", got)
	}
	id := m[1]

	bundlePath := filepath.Join(dir, "export.tar.zst")
	if got := runOK(t, "bundle", "export", "--config", srcCfg, "--out", bundlePath, "--compress"); !strings.Contains(got, "exported 1 artifacts") {
		t.Fatalf("export output: %s", got)
	}
	if got := runOK(t, "bundle", "import", "--config", dstCfg, "--in", bundlePath); strings.TrimSpace(got) != id {
		t.Fatalf("import output %q, want %s", got, id)
	}

	fetched := filepath.Join(dir, "fetched.png")
	if got := runOK(t, "fetch", "--config", dstCfg, "--cid", id, "--out", fetched); !strings.Contains(got, "owner: alice") {
		t.Fatalf("fetch output: %s", got)
	}
	if got := runOK(t, "verify", "--in", fetched); !strings.Contains(got, "verdict: valid") {
		t.Fatalf("verify fetched: %s", got)
	}
}

func TestDeposit_Replicas(t *testing.T) {
	dir := setupEnv(t)
	in := writeInput(t, dir)
	primary, replica := filepath.Join(dir, "primary"), filepath.Join(dir, "replica")
	cfg := filepath.Join(dir, "cfg.yaml")
	content := "log:\n  level: error\nstore:\n  backend: localfs\n  localfs_dir: " + primary +
		"\n  replicas:\n    - name: mirror\n      backend: localfs\n      localfs_dir: " + replica + "\n"
	if err := os.WriteFile(cfg, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	runOK(t, "protect", "--config", cfg, "--in", in, "--out", filepath.Join(dir, "out.png"), "--owner", "alice", "--deposit")

	replicaOnly := filepath.Join(dir, "replica.yaml")
	content = "log:\n  level: error\nstore:\n  backend: localfs\n  localfs_dir: " + replica + "\n"
	if err := os.WriteFile(replicaOnly, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if got := runOK(t, "bundle", "export", "--config", replicaOnly, "--out", filepath.Join(dir, "r.tar")); !strings.Contains(got, "exported 1 artifacts") {
		t.Fatalf("replica did not receive the deposit: %s", got)
	}
}
