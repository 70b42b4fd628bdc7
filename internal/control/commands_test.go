package control

import (
	"context"
	"testing"

	"aimeeting/internal/rag"
	"aimeeting/internal/segment"
)

type fakeSession struct {
	segments []segment.Record
	busy     bool
}

func (f *fakeSession) StartLoopbackCapture(context.Context) error { return nil }
func (f *fakeSession) StopLoopbackCapture(context.Context, bool) error { return nil }
func (f *fakeSession) IsTranslationBusy(context.Context) (bool, error) { return f.busy, nil }
func (f *fakeSession) ListSegments(context.Context) ([]segment.Record, error) { return f.segments, nil }
func (f *fakeSession) ReadSegmentBytes(_ context.Context, name string) ([]byte, error) {
	return []byte("wav:" + name), nil
}
func (f *fakeSession) ClearSegments(context.Context) error { return nil }
func (f *fakeSession) TranslateSegment(context.Context, string, string) error { return nil }
func (f *fakeSession) TranslateLive(context.Context, string, string, string, int) error { return nil }
func (f *fakeSession) RagProjectList(context.Context) ([]rag.Project, error) { return nil, nil }
func (f *fakeSession) RagProjectCreate(context.Context, string, string) (rag.Project, error) {
	return rag.Project{ProjectID: "proj_x"}, nil
}
func (f *fakeSession) RagProjectDelete(context.Context, string) (bool, error) { return true, nil }
func (f *fakeSession) RagIndexAddFiles(context.Context, string, []string) (rag.IndexReport, error) {
	return rag.IndexReport{}, nil
}
func (f *fakeSession) RagIndexSyncProject(context.Context, string, string) (rag.IndexReport, error) {
	return rag.IndexReport{}, nil
}
func (f *fakeSession) RagIndexRemoveFiles(context.Context, string, []string, []string) (rag.IndexReport, error) {
	return rag.IndexReport{}, nil
}
func (f *fakeSession) RagSearch(context.Context, string, []string, int) ([]rag.ChunkHit, error) {
	return nil, nil
}
func (f *fakeSession) RagAskWithProvider(context.Context, string, []string, int, string, bool) (rag.Answer, error) {
	return rag.Answer{}, nil
}

func TestDispatchRejectsPathSeparatorInSegmentName(t *testing.T) {
	resp := Dispatch(context.Background(), &fakeSession{}, Command{Name: "read_segment_bytes", SegmentName: "../etc/passwd"})
	if resp.Error == "" {
		t.Fatal("expected an error for a segment name containing path separators")
	}
}

func TestDispatchRejectsEmptyQuery(t *testing.T) {
	resp := Dispatch(context.Background(), &fakeSession{}, Command{Name: "rag_search", Query: "  "})
	if resp.Error == "" {
		t.Fatal("expected an error for empty rag_search query")
	}
}

func TestDispatchIsTranslationBusy(t *testing.T) {
	resp := Dispatch(context.Background(), &fakeSession{busy: true}, Command{Name: "is_translation_busy"})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Bool == nil || !*resp.Bool {
		t.Fatalf("expected bool true, got %+v", resp.Bool)
	}
}

func TestDispatchUnknownCommand(t *testing.T) {
	resp := Dispatch(context.Background(), &fakeSession{}, Command{Name: "not_a_real_command"})
	if resp.Error == "" {
		t.Fatal("expected error for unknown command")
	}
}

func TestBusPublishDropsOldestWhenFull(t *testing.T) {
	bus := NewBus()
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	for i := 0; i < subscriberBuffer+10; i++ {
		bus.Publish(Event{Type: EventSegmentListCleared})
	}

	count := 0
	for {
		select {
		case <-events:
			count++
		default:
			if count == 0 {
				t.Fatal("expected at least some buffered events")
			}
			if count > subscriberBuffer {
				t.Fatalf("expected at most %d buffered events, got %d", subscriberBuffer, count)
			}
			return
		}
	}
}
