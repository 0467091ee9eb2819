package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medical-decision-assistant/internal/domain"
	"github.com/medical-decision-assistant/internal/feedback"
	"github.com/medical-decision-assistant/internal/rag"
	"github.com/medical-decision-assistant/internal/repository"
	"github.com/medical-decision-assistant/internal/service"
	"github.com/medical-decision-assistant/internal/statistics"
	"github.com/medical-decision-assistant/internal/terminology"
)

type stubConfig struct {
	cfg *domain.Config
}

func (s stubConfig) GetConfig() *domain.Config                 { return s.cfg }
func (s stubConfig) GetDatabaseConfig() *domain.DatabaseConfig { return &s.cfg.Database }
func (s stubConfig) GetServerConfig() *domain.ServerConfig     { return &s.cfg.Server }
func (s stubConfig) Validate() error                           { return nil }

type fakeRetriever struct {
	err error
}

func (f fakeRetriever) Retrieve(ctx context.Context, question string, topK int) ([]rag.Passage, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []rag.Passage{{ID: "guide.md#0", Text: "高血压患者应限盐", Source: "guide.md"}}, nil
}

type fakeModel struct {
	chunks []string
	err    error

	lastPrompt string
}

func (m *fakeModel) Stream(ctx context.Context, messages []rag.Message) (rag.TokenStream, error) {
	m.lastPrompt = messages[len(messages)-1].Content
	return &fakeTokens{chunks: m.chunks, err: m.err}, nil
}

type fakeTokens struct {
	chunks []string
	err    error
	i      int
}

func (t *fakeTokens) Next(ctx context.Context) (string, error) {
	if t.i < len(t.chunks) {
		t.i++
		return t.chunks[t.i-1], nil
	}
	if t.err != nil {
		return "", t.err
	}
	return "", io.EOF
}

func (t *fakeTokens) Close() error { return nil }

func intPtr(v int) *int           { return &v }
func floatPtr(v float64) *float64 { return &v }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel) // Suppress logs during testing
	return logger
}

type testEnv struct {
	server   *Server
	model    *fakeModel
	feedback *feedback.SQLiteStore
}

func newTestEnv(t *testing.T, retrieverErr error) *testEnv {
	t.Helper()
	logger := testLogger()

	cfg := &domain.Config{
		Server:  domain.ServerConfig{Host: "127.0.0.1", Port: 0},
		Logging: domain.LoggingConfig{Level: "fatal"},
	}

	patients := repository.NewMemoryPatientStore(repository.Dataset{
		Patients: []domain.Patient{
			{PatientID: "1001_0_20210730", Name: "张三", Gender: "男", Age: intPtr(59), BMI: floatPtr(26.1)},
		},
		Medications: []domain.Medication{
			{PatientID: "1001_0_20210730", DrugName: "氨氯地平", Dosage: "5mg", MedicationDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)},
		},
	})

	model := &fakeModel{chunks: []string{"建议", "限盐"}}
	engine, err := rag.NewQueryEngine(fakeRetriever{err: retrieverErr}, model, nil, rag.EngineOptions{}, logger)
	require.NoError(t, err)

	safety := service.NewSafetyChecker(domain.DefaultSafetyConfig(), logger)
	diagnosis, err := service.NewDiagnosisEngine(logger, patients)
	require.NoError(t, err)
	planner, err := service.NewTreatmentPlanner(logger, patients)
	require.NoError(t, err)
	annotator, err := service.NewEvidenceAnnotator()
	require.NoError(t, err)
	terms, err := terminology.NewNormalizer(logger)
	require.NoError(t, err)

	store, err := feedback.NewSQLiteStore(filepath.Join(t.TempDir(), "feedback.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	deps := Dependencies{
		Engine:    engine,
		Tools:     service.NewMedicalTools(patients, engine, safety, logger),
		Patients:  patients,
		Safety:    safety,
		Diagnosis: diagnosis,
		Planner:   planner,
		Evidence:  service.NewRecommendationBuilder(annotator, logger),
		Terms:     terms,
		Insulin:   statistics.NewInsulinAnalyzer(filepath.Join(t.TempDir(), "missing.xlsx"), logger),
		Feedback:  store,
	}

	server := NewServer(stubConfig{cfg: cfg}, deps, logger)
	gin.SetMode(gin.TestMode)
	return &testEnv{server: server, model: model, feedback: store}
}

func (e *testEnv) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/health", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, map[string]interface{}{
		"rag_engine":     true,
		"medical_tools":  true,
		"safety_checker": true,
		"database":       true,
	}, body["components"])
}

func TestHealth_DatabaseDown(t *testing.T) {
	env := newTestEnv(t, nil)
	env.server.deps.Database = failingHealth{}

	body := decode(t, env.do(http.MethodGet, "/api/health", nil))

	assert.Equal(t, false, body["components"].(map[string]interface{})["database"])
}

type failingHealth struct{}

func (failingHealth) Health(ctx context.Context) error { return errors.New("connection refused") }

func TestNoRoute(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodGet, "/api/unknown", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"error":"接口不存在"}`, w.Body.String())
}

func TestChat(t *testing.T) {
	t.Run("Streams_With_Footer", func(t *testing.T) {
		env := newTestEnv(t, nil)

		// Act
		w := env.do(http.MethodPost, "/api/chat", gin.H{"question": "高血压怎么办", "patient_id": "1001_0_20210730"})

		// Assert
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Header().Get("Content-Type"), "text/plain")
		assert.True(t, strings.HasPrefix(w.Body.String(), "建议限盐"))
		assert.Contains(t, w.Body.String(), "本建议仅供参考,具体诊疗请咨询医生。")
		assert.Contains(t, env.model.lastPrompt, "患者信息: 患者: 张三, 年龄: 59岁, BMI: 26.1")
	})

	t.Run("Safety_Disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)

		w := env.do(http.MethodPost, "/api/chat", gin.H{"question": "高血压怎么办", "enable_safety_check": false})

		assert.Equal(t, "建议限盐", w.Body.String())
	})

	t.Run("Empty_Question", func(t *testing.T) {
		env := newTestEnv(t, nil)

		w := env.do(http.MethodPost, "/api/chat", gin.H{"question": "  "})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.JSONEq(t, `{"error":"问题不能为空"}`, w.Body.String())
	})

	t.Run("Engine_Missing", func(t *testing.T) {
		env := newTestEnv(t, nil)
		env.server.deps.Engine = nil

		w := env.do(http.MethodPost, "/api/chat", gin.H{"question": "高血压"})

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"RAG引擎未初始化,请先构建知识库"}`, w.Body.String())
	})

	t.Run("Inline_Error", func(t *testing.T) {
		env := newTestEnv(t, errors.New("index offline"))

		w := env.do(http.MethodPost, "/api/chat", gin.H{"question": "高血压"})

		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, strings.HasPrefix(w.Body.String(), "\n\n错误: "))
		assert.Contains(t, w.Body.String(), "index offline")
		assert.NotContains(t, w.Body.String(), "本建议仅供参考")
	})
}

func TestChatWebSocket(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(ChatRequest{Question: "高血压怎么办"}))

	var frames []string
	for {
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		if string(msg) == `{"done":true}`+"\n" || string(msg) == `{"done":true}` {
			break
		}
		frames = append(frames, string(msg))
	}

	require.GreaterOrEqual(t, len(frames), 3)
	assert.Equal(t, "建议", frames[0])
	assert.Equal(t, "限盐", frames[1])
	assert.Contains(t, strings.Join(frames, ""), "本建议仅供参考")

	require.NoError(t, conn.WriteJSON(ChatRequest{Question: ""}))
	var reply map[string]interface{}
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "问题不能为空", reply["error"])
	assert.Equal(t, true, reply["done"])
}

func TestPatientRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	t.Run("Get_Patient", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/patient/1001_0_20210730", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "张三", decode(t, w)["name"])
	})

	t.Run("Patient_Not_Found", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/patient/ghost", nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.JSONEq(t, `{"error":"未找到患者: ghost"}`, w.Body.String())
	})

	t.Run("Comprehensive", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/patient/1001_0_20210730/comprehensive", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.NotNil(t, decode(t, w)["patient_info"])

		missing := env.do(http.MethodGet, "/api/patient/ghost/comprehensive", nil)
		assert.Equal(t, http.StatusNotFound, missing.Code)
	})

	t.Run("Diabetes_Assessment", func(t *testing.T) {
		w := env.do(http.MethodGet, "/api/assessment/diabetes/1001_0_20210730", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		body := decode(t, w)
		assert.Equal(t, "1001_0_20210730", body["patient_id"])
		assert.Contains(t, body["assessment"], "患者: 张三")
	})

	t.Run("Store_Missing", func(t *testing.T) {
		bare := newTestEnv(t, nil)
		bare.server.deps.Patients = nil

		w := bare.do(http.MethodGet, "/api/patient/1001_0_20210730", nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.JSONEq(t, `{"error":"数据库未初始化"}`, w.Body.String())
	})
}

func TestCheckMedication(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/safety/medication", gin.H{"patient_id": "1001_0_20210730", "medication": "硝苯地平"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w)["result"], "氨氯地平")

	missing := env.do(http.MethodPost, "/api/safety/medication", gin.H{"patient_id": "1001_0_20210730"})
	assert.Equal(t, http.StatusBadRequest, missing.Code)
	assert.JSONEq(t, `{"error":"患者ID和药物名称不能为空"}`, missing.Body.String())
}

func TestDiagnosis(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/diagnosis", json.RawMessage(`{
		"symptoms": ["头晕", "胸闷"],
		"lab_results": {"收缩压": 165, "舒张压": 100}
	}`))

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	candidates := body["candidates"].([]interface{})
	require.NotEmpty(t, candidates)
	assert.Equal(t, "高血压", candidates[0].(map[string]interface{})["disease"])
	assert.NotEmpty(t, body["report"])

	empty := env.do(http.MethodPost, "/api/diagnosis", gin.H{})
	assert.Equal(t, http.StatusBadRequest, empty.Code)
}

func TestTreatmentPlanAndAdjust(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/treatment/plan", gin.H{
		"patient_id": "1001_0_20210730",
		"diagnosis":  "高血压",
		"risk_level": "高危",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var planned struct {
		Plan   domain.TreatmentPlan `json:"plan"`
		Report string               `json:"report"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &planned))
	assert.Equal(t, "1001_0_20210730", planned.Plan.PatientID)
	assert.NotEmpty(t, planned.Plan.Drugs)
	assert.NotEmpty(t, planned.Report)

	adjusted := env.do(http.MethodPost, "/api/treatment/adjust", gin.H{
		"plan":            planned.Plan,
		"treatment_weeks": 4,
		"effectiveness":   "good",
	})
	require.Equal(t, http.StatusOK, adjusted.Code, adjusted.Body.String())
	assert.Equal(t, "继续当前方案,维持治疗", decode(t, adjusted)["plan"].(map[string]interface{})["advice"])

	invalid := env.do(http.MethodPost, "/api/treatment/adjust", gin.H{"plan": planned.Plan, "effectiveness": "great"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	ghost := env.do(http.MethodPost, "/api/treatment/plan", gin.H{"patient_id": "ghost", "diagnosis": "高血压"})
	assert.Equal(t, http.StatusNotFound, ghost.Code)
}

func TestEvidenceRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/evidence/annotate", gin.H{"text": "建议限盐"})
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Contains(t, body["annotated_text"], "【证据等级:")
	assert.NotEmpty(t, body["guideline"])

	rec := env.do(http.MethodPost, "/api/evidence/recommendation", gin.H{"content": "建议限盐", "db_table": "guideline_recommendations", "db_record": "12"})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["formatted"])

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodPost, "/api/evidence/annotate", gin.H{}).Code)
}

func TestSafetyCheck(t *testing.T) {
	env := newTestEnv(t, nil)

	w := env.do(http.MethodPost, "/api/safety/check", gin.H{"content": "本药保证治愈,请立即停药"})

	assert.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, false, body["safe_to_display"])
	assert.Contains(t, body["processed_content"], "【重要声明】")
}

func TestTermRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	norm := decode(t, env.do(http.MethodGet, "/api/terms/normalize?term=心梗", nil))
	assert.Equal(t, "心肌梗死", norm["standard"])

	expanded := decode(t, env.do(http.MethodGet, "/api/terms/expand?q=心梗的治疗方法", nil))
	assert.Equal(t, "心梗(心肌梗死)的治疗方法", expanded["expanded"])

	list := decode(t, env.do(http.MethodGet, "/api/terms", nil))
	assert.Greater(t, list["count"], float64(0))

	assert.Equal(t, http.StatusBadRequest, env.do(http.MethodGet, "/api/terms/normalize", nil).Code)
}

func TestInsulinStatistics(t *testing.T) {
	env := newTestEnv(t, nil)

	missing := env.do(http.MethodGet, "/api/statistics/insulin?dimension=gender", nil)
	assert.Equal(t, http.StatusNotFound, missing.Code)

	invalid := env.do(http.MethodGet, "/api/statistics/insulin?dimension=blood_type", nil)
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
}

func TestFeedbackRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	created := env.do(http.MethodPost, "/api/feedback", gin.H{
		"patient_id":          "1001_0_20210730",
		"suggested_diagnosis": "高血压",
		"agreed":              true,
	})
	require.Equal(t, http.StatusCreated, created.Code, created.Body.String())
	assert.Equal(t, "高血压", decode(t, created)["clinician_diagnosis"])

	invalid := env.do(http.MethodPost, "/api/feedback", gin.H{"patient_id": "p1"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)

	list := decode(t, env.do(http.MethodGet, "/api/feedback?limit=10", nil))
	assert.Equal(t, float64(1), list["total"])
	assert.Len(t, list["feedback"], 1)
	assert.Equal(t, float64(1), list["summary"].(map[string]interface{})["agreement_rate"])

	export := env.do(http.MethodGet, "/api/feedback/export", nil)
	assert.Equal(t, http.StatusOK, export.Code)
	assert.Contains(t, export.Header().Get("Content-Disposition"), "feedback-")
	assert.Contains(t, export.Body.String(), `"version": "1.0"`)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.NewValidationError("x", "bad", nil)))
	assert.Equal(t, http.StatusBadRequest, statusFor(domain.ErrInvalidDimension))
	assert.Equal(t, http.StatusNotFound, statusFor(domain.NotFoundf("patient %s", "p1")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	assert.Equal(t, "数据库未初始化", messageFor(domain.ErrStoreUnavailable))
}
