// host_test.go: tests for module hosts and handles
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package goloader

import (
	"context"
	"testing"
)

func TestStaticHost_RegisterModule(t *testing.T) {
	entry := func() (Instance, error) { return newTestInstance("x", "1.0.0"), nil }

	t.Run("Success", func(t *testing.T) {
		host := NewStaticHost(NewTestLogger())
		if err := host.RegisterModule("static://x", entry); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !equalStringSlices(host.Registered(), []string{"static://x"}) {
			t.Errorf("expected registered [static://x], got %v", host.Registered())
		}
	})

	t.Run("EmptyPath", func(t *testing.T) {
		host := NewStaticHost(nil)
		err := host.RegisterModule("", entry)
		assertErrorCode(t, err, ErrCodeModuleRegistry)
	})

	t.Run("NilEntry", func(t *testing.T) {
		host := NewStaticHost(nil)
		err := host.RegisterModule("static://x", nil)
		assertErrorCode(t, err, ErrCodeModuleRegistry)
	})

	t.Run("DuplicatePath", func(t *testing.T) {
		host := NewStaticHost(nil)
		if err := host.RegisterModule("static://x", entry); err != nil {
			t.Fatal(err)
		}
		err := host.RegisterModule("static://x", entry)
		structured := assertErrorCode(t, err, ErrCodeModuleRegistry)
		if structured.Context["module_path"] != "static://x" {
			t.Errorf("expected module_path context, got %v", structured.Context)
		}
	})

	t.Run("RegisteredSorted", func(t *testing.T) {
		host := NewStaticHost(nil)
		for _, path := range []string{"static://zeta", "static://alpha", "static://mid"} {
			if err := host.RegisterModule(path, entry); err != nil {
				t.Fatal(err)
			}
		}
		expected := []string{"static://alpha", "static://mid", "static://zeta"}
		if !equalStringSlices(host.Registered(), expected) {
			t.Errorf("expected %v, got %v", expected, host.Registered())
		}
	})
}

func TestStaticHost_Open(t *testing.T) {
	t.Run("HandleServesEntry", func(t *testing.T) {
		instance := newTestInstance("x", "1.0.0")
		host := NewStaticHost(nil)
		if err := host.RegisterModule("static://x", func() (Instance, error) { return instance, nil }); err != nil {
			t.Fatal(err)
		}

		handle, err := host.Open(context.Background(), "static://x")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if handle.Path() != "static://x" {
			t.Errorf("expected handle path static://x, got %s", handle.Path())
		}

		entry, err := handle.Entry()
		if err != nil {
			t.Fatalf("Entry failed: %v", err)
		}
		got, err := entry()
		if err != nil {
			t.Fatalf("entry invocation failed: %v", err)
		}
		if got != Instance(instance) {
			t.Error("entry must return the registered instance")
		}

		if err := handle.Close(); err != nil {
			t.Errorf("static handles close without error, got %v", err)
		}
	})

	t.Run("UnregisteredPath", func(t *testing.T) {
		host := NewStaticHost(nil)
		_, err := host.Open(context.Background(), "static://ghost")
		structured := assertErrorCode(t, err, ErrCodeHostFailure)
		if structured.Context["host"] != "static" {
			t.Errorf("expected host context static, got %v", structured.Context["host"])
		}
	})

	t.Run("CanceledContext", func(t *testing.T) {
		host := NewStaticHost(nil)
		if err := host.RegisterModule("static://x", func() (Instance, error) { return newTestInstance("x", "1.0.0"), nil }); err != nil {
			t.Fatal(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := host.Open(ctx, "static://x")
		assertErrorCode(t, err, ErrCodeHostFailure)
	})

	t.Run("Name", func(t *testing.T) {
		if NewStaticHost(nil).Name() != "static" {
			t.Error("unexpected host name")
		}
	})
}

func TestNativeHost_Open(t *testing.T) {
	t.Run("EmptyPath", func(t *testing.T) {
		host := NewNativeHost(NewTestLogger())
		_, err := host.Open(context.Background(), "")
		assertErrorCode(t, err, ErrCodeHostFailure)
	})

	t.Run("CanceledContext", func(t *testing.T) {
		host := NewNativeHost(nil)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := host.Open(ctx, "/lib/never-opened.so")
		assertErrorCode(t, err, ErrCodeHostFailure)
	})

	t.Run("MissingFile", func(t *testing.T) {
		host := NewNativeHost(nil)
		_, err := host.Open(context.Background(), "/does/not/exist.so")
		structured := assertErrorCode(t, err, ErrCodeHostFailure)
		if structured.Context["host"] != "native" {
			t.Errorf("expected host context native, got %v", structured.Context["host"])
		}
	})

	t.Run("Name", func(t *testing.T) {
		if NewNativeHost(nil).Name() != "native" {
			t.Error("unexpected host name")
		}
	})
}
