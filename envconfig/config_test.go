package envconfig

import (
	"log/slog"
	"testing"
)

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("AUGPIPE_DEBUG", k)
			if i := LogLevel(); i != v {
				t.Errorf("%s: erwartet %d, bekommen %d", k, v, i)
			}
		})
	}
}

func TestSeed(t *testing.T) {
	cases := map[string]int64{
		"":      1,
		"42":    42,
		"-1":    -1,
		"bogus": 1,
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("AUGPIPE_SEED", k)
			if s := Seed(); s != v {
				t.Errorf("%s: erwartet %d, bekommen %d", k, v, s)
			}
		})
	}
}

func TestQueueDepths(t *testing.T) {
	t.Setenv("AUGPIPE_CPU_QUEUE", "4")
	t.Setenv("AUGPIPE_GPU_QUEUE", "not-a-number")

	if n := CPUQueue(); n != 4 {
		t.Errorf("CPUQueue = %d, erwartet 4", n)
	}
	if n := GPUQueue(); n != 0 {
		t.Errorf("GPUQueue = %d, erwartet Standard 0", n)
	}
}

func TestExecFlags(t *testing.T) {
	t.Setenv("AUGPIPE_EXEC_PIPELINED", "false")
	t.Setenv("AUGPIPE_EXEC_ASYNC", "")

	if ExecPipelined(true) {
		t.Error("ExecPipelined should be disabled")
	}
	if !ExecAsync(true) {
		t.Error("ExecAsync should fall back to the default")
	}
}

func TestVar(t *testing.T) {
	t.Setenv("AUGPIPE_OUTPUT_MEMORY", ` "Device" `)
	if v := OutputMemory(); v != "device" {
		t.Errorf("OutputMemory = %q, erwartet device", v)
	}
}

func TestValues(t *testing.T) {
	vals := Values()
	for _, k := range []string{"AUGPIPE_DEBUG", "AUGPIPE_SEED", "AUGPIPE_CPU_QUEUE", "AUGPIPE_GPU_QUEUE"} {
		if _, ok := vals[k]; !ok {
			t.Errorf("missing %s", k)
		}
	}
}

func TestHost(t *testing.T) {
	cases := map[string]string{
		"":                      "127.0.0.1:11535",
		"1.2.3.4":               "1.2.3.4:11535",
		":1234":                 ":1234",
		"example.com":           "example.com:11535",
		"example.com:8080":      "example.com:8080",
		"http://0.0.0.0:9000/":  "0.0.0.0:9000",
		"[::1]":                 "[::1]:11535",
		"127.0.0.1:99999":       "127.0.0.1:11535",
		"  \"localhost:4000\" ": "localhost:4000",
	}

	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv("AUGPIPE_HOST", k)
			if h := Host(); h != v {
				t.Errorf("%s: erwartet %s, bekommen %s", k, v, h)
			}
		})
	}
}

func TestAllowedOrigins(t *testing.T) {
	t.Setenv("AUGPIPE_ORIGINS", "http://10.0.0.1,https://example.com")

	origins := AllowedOrigins()
	if len(origins) != 2+12 {
		t.Fatalf("14 Origins erwartet, bekommen %d", len(origins))
	}
	if origins[0] != "http://10.0.0.1" || origins[1] != "https://example.com" {
		t.Errorf("eigene Origins zuerst erwartet, bekommen %v", origins[:2])
	}
	if origins[2] != "http://localhost" {
		t.Errorf("http://localhost erwartet, bekommen %s", origins[2])
	}
}
