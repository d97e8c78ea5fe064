package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/tempcab/cabinet/internal/common"
	"github.com/tempcab/cabinet/internal/server/models"
	"github.com/tempcab/cabinet/internal/server/services"
)

// multipartOverhead is slack on top of the payload limit for multipart
// framing and the non-content fields.
const multipartOverhead = 1 << 20

// proofRequest is the password proof carried by every protected route:
// the password sealed to a previously issued public key.
type proofRequest struct {
	PublicKey string `json:"public_key"`
	Password  string `json:"password"`
}

type holdResponse struct {
	Code      int64     `json:"code"`
	HoldToken string    `json:"hold_token"`
	ExpireAt  time.Time `json:"expire_at"`
}

type cabinetResponse struct {
	Code        int64     `json:"code"`
	Name        string    `json:"name,omitempty"`
	Description string    `json:"description,omitempty"`
	Occupied    bool      `json:"occupied"`
	ExpireAt    time.Time `json:"expire_at"`
}

type itemResponse struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	SortOrder int32  `json:"sort_order"`
}

type itemListResponse struct {
	Cabinet cabinetResponse `json:"cabinet"`
	Items   []itemResponse  `json:"items"`
}

type textContentResponse struct {
	ID       string `json:"id"`
	Category string `json:"category"`
	Name     string `json:"name"`
	Content  string `json:"content"`
}

type publicKeyResponse struct {
	PublicKey string `json:"public_key"`
}

func newCabinetResponse(c *models.Cabinet) cabinetResponse {
	return cabinetResponse{
		Code:        c.Code,
		Name:        c.Name,
		Description: c.Description,
		Occupied:    c.Status == models.StatusOccupied,
		ExpireAt:    c.ExpireAt,
	}
}

func newItemResponse(i *models.CabinetItem) itemResponse {
	return itemResponse{
		ID:        i.ID,
		Category:  string(i.Category),
		Name:      i.Name,
		Size:      i.Size,
		SortOrder: i.SortOrder,
	}
}

func codeFromPath(r *http.Request) (int64, error) {
	code, err := strconv.ParseInt(r.PathValue("code"), 10, 64)
	if err != nil {
		return 0, badRequest("invalid cabinet code")
	}
	return code, nil
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(io.LimitReader(r.Body, 8<<10)).Decode(v); err != nil {
		return badRequest("invalid request body")
	}
	return nil
}

// authorize proves ownership of an occupied cabinet: it consumes the
// proof's keypair, decrypts the sealed password and compares it against the
// stored one. A held cabinet, a bad keypair and a wrong password all come
// out as the same invalid-credentials error.
func (s *Server) authorize(ctx context.Context, code int64, proof proofRequest) (*models.Cabinet, error) {
	cabinet, err := s.cabinets.GetByCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if cabinet.Status != models.StatusOccupied {
		return nil, services.ErrInvalidPassword
	}

	password, err := s.credentials.ConsumeAndDecrypt(ctx, proof.PublicKey, proof.Password)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, services.ErrInvalidPassword
		}
		return nil, err
	}
	if subtle.ConstantTimeCompare([]byte(password), []byte(cabinet.Password)) != 1 {
		return nil, services.ErrInvalidPassword
	}
	return cabinet, nil
}

func (s *Server) handleApply(w http.ResponseWriter, r *http.Request) {
	cabinet, err := s.cabinets.Apply(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, holdResponse{
		Code:      cabinet.Code,
		HoldToken: cabinet.HoldToken,
		ExpireAt:  cabinet.ExpireAt,
	})
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := s.cabinets.Usage(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, usage)
}

func (s *Server) handleGetCabinet(w http.ResponseWriter, r *http.Request) {
	code, err := codeFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cabinet, err := s.cabinets.GetByCode(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCabinetResponse(cabinet))
}

// occupyForm is the parsed multipart occupy request.
type occupyForm struct {
	draft *models.Cabinet
	items []*models.CabinetItem

	publicKey      string
	passwordCipher string
	hours          int
}

// parseOccupyForm streams the multipart body part by part so file content
// is never buffered beyond its size limit. Item order follows the order of
// message and file parts in the form.
func (s *Server) parseOccupyForm(r *http.Request, code int64) (*occupyForm, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, badRequest("multipart form expected")
	}

	form := &occupyForm{draft: &models.Cabinet{Code: code}}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, badRequest("malformed multipart form")
		}

		switch part.FormName() {
		case "password":
			form.passwordCipher, err = readPartString(part)
		case "public_key":
			form.publicKey, err = readPartString(part)
		case "hold_token":
			form.draft.HoldToken, err = readPartString(part)
		case "name":
			form.draft.Name, err = readPartString(part)
		case "description":
			form.draft.Description, err = readPartString(part)
		case "hours":
			var v string
			v, err = readPartString(part)
			if err == nil {
				form.hours, err = strconv.Atoi(v)
				if err != nil {
					err = badRequest("invalid hours")
				}
			}
		case "message":
			var content []byte
			content, err = io.ReadAll(io.LimitReader(part, services.MaxTextSize+1))
			if err == nil {
				form.items = append(form.items, &models.CabinetItem{
					Category: models.CategoryText,
					Name:     "message",
					Content:  content,
				})
			}
		case "files":
			var content []byte
			content, err = io.ReadAll(io.LimitReader(part, services.MaxFileSize+1))
			if err == nil {
				form.items = append(form.items, &models.CabinetItem{
					Category: models.CategoryFile,
					Name:     part.FileName(),
					Content:  content,
				})
			}
		default:
			_, err = io.Copy(io.Discard, part)
		}
		part.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %q: %w", part.FormName(), err)
		}
	}
	return form, nil
}

func (s *Server) handleOccupy(w http.ResponseWriter, r *http.Request) {
	code, err := codeFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, services.MaxTotalSize+multipartOverhead)
	form, err := s.parseOccupyForm(r, code)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if err := services.ValidateHoldHours(form.hours); err != nil {
		s.writeError(w, err)
		return
	}
	if form.hours == 0 {
		form.hours = services.MaxHoldHours
	}
	if form.publicKey == "" || form.passwordCipher == "" {
		s.writeError(w, badRequest("password and public_key are required"))
		return
	}

	password, err := s.credentials.ConsumeAndDecrypt(r.Context(), form.publicKey, form.passwordCipher)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			err = services.ErrInvalidPassword
		}
		s.writeError(w, err)
		return
	}

	form.draft.Password = password
	form.draft.ExpireAt = time.Now().Add(time.Duration(form.hours) * time.Hour)

	cabinet, err := s.cabinets.Save(r.Context(), form.draft, form.items)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, newCabinetResponse(cabinet))
}

func (s *Server) handleDeleteCabinet(w http.ResponseWriter, r *http.Request) {
	code, err := codeFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var proof proofRequest
	if err := decodeJSON(r, &proof); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.authorize(r.Context(), code, proof); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.cabinets.DeleteByCode(r.Context(), code); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	code, err := codeFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var proof proofRequest
	if err := decodeJSON(r, &proof); err != nil {
		s.writeError(w, err)
		return
	}
	cabinet, err := s.authorize(r.Context(), code, proof)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items, err := s.cabinets.ListItems(r.Context(), code)
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := itemListResponse{Cabinet: newCabinetResponse(cabinet), Items: make([]itemResponse, 0, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, newItemResponse(item))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleItemContent(w http.ResponseWriter, r *http.Request) {
	code, err := codeFromPath(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	var proof proofRequest
	if err := decodeJSON(r, &proof); err != nil {
		s.writeError(w, err)
		return
	}
	if _, err := s.authorize(r.Context(), code, proof); err != nil {
		s.writeError(w, err)
		return
	}

	item, err := s.cabinets.GetItem(r.Context(), r.PathValue("id"), true)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// Item IDs are global; a proof for one cabinet must not open another's.
	if item.CabinetCode != code {
		s.writeError(w, common.ErrorNotFound)
		return
	}

	if item.Category == models.CategoryText {
		s.writeJSON(w, http.StatusOK, textContentResponse{
			ID:       item.ID,
			Category: string(item.Category),
			Name:     item.Name,
			Content:  string(item.Content),
		})
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", item.Name))
	w.Header().Set("Content-Length", strconv.FormatInt(item.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(item.Content); err != nil {
		s.logger.Error(r.Context(), "failed to write item content", "id", item.ID, "error", err)
	}
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	publicKey, err := s.credentials.Issue(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, publicKeyResponse{PublicKey: publicKey})
}

func readPartString(p io.Reader) (string, error) {
	raw, err := io.ReadAll(io.LimitReader(p, 8<<10))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
