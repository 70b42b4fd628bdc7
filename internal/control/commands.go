package control

import (
	"context"
	"fmt"
	"strings"

	"aimeeting/internal/rag"
	"aimeeting/internal/segment"
)

// Session is the command surface a control transport dispatches onto, one
// method per spec §6.3 command. Implemented by internal/app.Session.
type Session interface {
	StartLoopbackCapture(ctx context.Context) error
	StopLoopbackCapture(ctx context.Context, dropTranslations bool) error
	IsTranslationBusy(ctx context.Context) (bool, error)
	ListSegments(ctx context.Context) ([]segment.Record, error)
	ReadSegmentBytes(ctx context.Context, name string) ([]byte, error)
	ClearSegments(ctx context.Context) error
	TranslateSegment(ctx context.Context, name, provider string) error
	TranslateLive(ctx context.Context, text, provider, name string, order int) error

	RagProjectList(ctx context.Context) ([]rag.Project, error)
	RagProjectCreate(ctx context.Context, name, rootDir string) (rag.Project, error)
	RagProjectDelete(ctx context.Context, projectID string) (bool, error)
	RagIndexAddFiles(ctx context.Context, projectID string, filePaths []string) (rag.IndexReport, error)
	RagIndexSyncProject(ctx context.Context, projectID, rootOverride string) (rag.IndexReport, error)
	RagIndexRemoveFiles(ctx context.Context, projectID string, filePaths, fileIDs []string) (rag.IndexReport, error)
	RagSearch(ctx context.Context, query string, projectIDs []string, topK int) ([]rag.ChunkHit, error)
	RagAskWithProvider(ctx context.Context, query string, projectIDs []string, topK int, provider string, allowOutOfContext bool) (rag.Answer, error)
}

// Command is the unary request envelope. Name selects the operation; the
// remaining fields are that operation's arguments, unused ones left zero.
type Command struct {
	Name string `json:"name"`

	DropTranslations bool   `json:"dropTranslations,omitempty"`
	SegmentName      string `json:"segmentName,omitempty"`
	Provider         string `json:"provider,omitempty"`
	Text             string `json:"text,omitempty"`
	Order            int    `json:"order,omitempty"`

	ProjectID         string   `json:"projectId,omitempty"`
	ProjectName       string   `json:"projectName,omitempty"`
	RootDir           string   `json:"rootDir,omitempty"`
	FilePaths         []string `json:"filePaths,omitempty"`
	FileIDs           []string `json:"fileIds,omitempty"`
	ProjectIDs        []string `json:"projectIds,omitempty"`
	Query             string   `json:"query,omitempty"`
	TopK              int      `json:"topK,omitempty"`
	AllowOutOfContext bool     `json:"allowOutOfContext,omitempty"`
}

// Response is the unary result envelope returned for a Command.
type Response struct {
	Error string `json:"error,omitempty"`

	Bool        *bool            `json:"bool,omitempty"`
	Segments    []segment.Record `json:"segments,omitempty"`
	Bytes       []byte           `json:"bytes,omitempty"`
	Projects    []rag.Project    `json:"projects,omitempty"`
	Project     *rag.Project     `json:"project,omitempty"`
	IndexReport *rag.IndexReport `json:"indexReport,omitempty"`
	Hits        []rag.ChunkHit   `json:"hits,omitempty"`
	Answer      *rag.Answer      `json:"answer,omitempty"`
}

// Dispatch validates and routes one Command to sess, per the §6.3 contract
// and the §7 rule that invalid names (path separators) fail immediately
// with InvalidArgument, never touching disk.
func Dispatch(ctx context.Context, sess Session, cmd Command) Response {
	if err := validateCommand(cmd); err != nil {
		return Response{Error: err.Error()}
	}

	switch cmd.Name {
	case "start_loopback_capture":
		return errResponse(sess.StartLoopbackCapture(ctx))
	case "stop_loopback_capture":
		return errResponse(sess.StopLoopbackCapture(ctx, cmd.DropTranslations))
	case "is_translation_busy":
		busy, err := sess.IsTranslationBusy(ctx)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Bool: &busy}
	case "list_segments":
		segs, err := sess.ListSegments(ctx)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Segments: segs}
	case "read_segment_bytes":
		data, err := sess.ReadSegmentBytes(ctx, cmd.SegmentName)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Bytes: data}
	case "clear_segments":
		return errResponse(sess.ClearSegments(ctx))
	case "translate_segment":
		return errResponse(sess.TranslateSegment(ctx, cmd.SegmentName, cmd.Provider))
	case "translate_live":
		return errResponse(sess.TranslateLive(ctx, cmd.Text, cmd.Provider, cmd.SegmentName, cmd.Order))

	case "rag_project_list":
		projects, err := sess.RagProjectList(ctx)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Projects: projects}
	case "rag_project_create":
		p, err := sess.RagProjectCreate(ctx, cmd.ProjectName, cmd.RootDir)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Project: &p}
	case "rag_project_delete":
		ok, err := sess.RagProjectDelete(ctx, cmd.ProjectID)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Bool: &ok}
	case "rag_index_add_files":
		report, err := sess.RagIndexAddFiles(ctx, cmd.ProjectID, cmd.FilePaths)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{IndexReport: &report}
	case "rag_index_sync_project":
		report, err := sess.RagIndexSyncProject(ctx, cmd.ProjectID, cmd.RootDir)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{IndexReport: &report}
	case "rag_index_remove_files":
		report, err := sess.RagIndexRemoveFiles(ctx, cmd.ProjectID, cmd.FilePaths, cmd.FileIDs)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{IndexReport: &report}
	case "rag_search":
		hits, err := sess.RagSearch(ctx, cmd.Query, cmd.ProjectIDs, cmd.TopK)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Hits: hits}
	case "rag_ask_with_provider":
		answer, err := sess.RagAskWithProvider(ctx, cmd.Query, cmd.ProjectIDs, cmd.TopK, cmd.Provider, cmd.AllowOutOfContext)
		if err != nil {
			return Response{Error: err.Error()}
		}
		return Response{Answer: &answer}

	default:
		return Response{Error: fmt.Sprintf("unknown command: %s", cmd.Name)}
	}
}

func errResponse(err error) Response {
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func validateCommand(cmd Command) error {
	if strings.ContainsAny(cmd.SegmentName, "/\\") {
		return fmt.Errorf("invalid argument: segment name must not contain path separators")
	}
	if cmd.Name == "rag_search" || cmd.Name == "rag_ask_with_provider" {
		if strings.TrimSpace(cmd.Query) == "" {
			return fmt.Errorf("invalid argument: query must not be empty")
		}
	}
	return nil
}
