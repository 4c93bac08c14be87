package config

import (
    "os"
    "testing"
    "time"
)

func TestLoadDefaults(t *testing.T) {
    // Clear relevant envs
    os.Unsetenv("PORT")
    os.Unsetenv("LOG_LEVEL")
    os.Unsetenv("HEARTBEAT_INTERVAL")
    os.Unsetenv("VAD_AUTO_PAUSE")
    os.Unsetenv("VAD_SPEECH_START_THRESHOLD")
    os.Unsetenv("VAD_MAX_LEAD_IN")
    os.Unsetenv("SESSION_WRITE_TIMEOUT")
    os.Unsetenv("OPENAI_TRANSCRIPTION_LANGUAGE")

    c := Load()

    if c.Server.Port != "8080" {
        t.Fatalf("expected default port 8080, got %q", c.Server.Port)
    }
    if c.Server.LogLevel != "info" {
        t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
    }
    if c.Heartbeat.Interval != 5*time.Second {
        t.Fatalf("expected heartbeat 5s, got %s", c.Heartbeat.Interval)
    }
    if c.VAD.AutoPause != 20*time.Second {
        t.Fatalf("expected auto-pause 20s, got %s", c.VAD.AutoPause)
    }
    if c.VAD.SpeechStartThreshold != 10 || c.VAD.SpeechEndThreshold != 10 {
        t.Fatalf("expected thresholds 10/10, got %d/%d", c.VAD.SpeechStartThreshold, c.VAD.SpeechEndThreshold)
    }
    if c.VAD.SampleRate != 48000 {
        t.Fatalf("expected sample rate 48000, got %d", c.VAD.SampleRate)
    }
    if c.VAD.HighPassCutoffHz != 100 {
        t.Fatalf("expected cutoff 100Hz, got %v", c.VAD.HighPassCutoffHz)
    }
    if c.VAD.MaxLeadIn < c.VAD.AutoPause {
        t.Fatalf("lead-in cap %s must not be shorter than auto-pause %s", c.VAD.MaxLeadIn, c.VAD.AutoPause)
    }
    if c.Session.WriteTimeout != 5*time.Second {
        t.Fatalf("expected write timeout 5s, got %s", c.Session.WriteTimeout)
    }
    if c.OpenAI.TranscriptionLanguage != "es" {
        t.Fatalf("expected language es, got %q", c.OpenAI.TranscriptionLanguage)
    }
    if c.OpenAI.ApologyPhrase != DefaultApologyPhrase {
        t.Fatalf("unexpected apology phrase %q", c.OpenAI.ApologyPhrase)
    }
    if err := c.Validate(); err != nil {
        t.Fatalf("defaults should validate: %v", err)
    }
}

func TestLoadEnvOverrides(t *testing.T) {
    t.Setenv("HEARTBEAT_INTERVAL", "250ms")
    t.Setenv("VAD_SPEECH_END_THRESHOLD", "4")
    t.Setenv("SESSION_VERBOSE_STATUS", "false")

    c := Load()
    if c.Heartbeat.Interval != 250*time.Millisecond {
        t.Fatalf("expected 250ms heartbeat, got %s", c.Heartbeat.Interval)
    }
    if c.VAD.SpeechEndThreshold != 4 {
        t.Fatalf("expected end threshold 4, got %d", c.VAD.SpeechEndThreshold)
    }
    if c.Session.VerboseStatus {
        t.Fatalf("expected verbose status off")
    }
}

func TestValidateRejectsBadValues(t *testing.T) {
    c := Load()
    c.VAD.SpeechStartThreshold = 0
    if err := c.Validate(); err == nil {
        t.Fatal("expected error for zero start threshold")
    }

    c = Load()
    c.VAD.MaxLeadIn = 5 * time.Second
    if err := c.Validate(); err == nil {
        t.Fatal("expected error for lead-in cap shorter than auto-pause")
    }

    c = Load()
    c.Database.Driver = "oracle"
    if err := c.Validate(); err == nil {
        t.Fatal("expected error for unknown driver")
    }
}
