package browser

import (
	"context"
	"fmt"

	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"

	"github.com/hazyhaar/entryturbo/turbo/dom"
)

// Element is a remote element handle.
type Element struct {
	p       *Page
	obj     *proto.RuntimeRemoteObject
	inFrame bool
}

func (e *Element) Parent(ctx context.Context) (dom.Element, error) {
	obj, err := e.p.object(ctx, parentJS, e.obj)
	if err != nil {
		return nil, fmt.Errorf("browser: parent: %w", err)
	}
	if obj == nil {
		return nil, nil
	}
	return e.p.element(obj, e.inFrame), nil
}

func (e *Element) Query(ctx context.Context, sel string) (dom.Element, error) {
	obj, err := e.p.object(ctx, queryJS, e.obj, sel)
	if err != nil {
		return nil, fmt.Errorf("browser: query %q: %w", sel, err)
	}
	if obj == nil {
		return nil, nil
	}
	return e.p.element(obj, e.inFrame), nil
}

func (e *Element) OwnerDocument(ctx context.Context) (dom.Document, error) {
	obj, err := e.p.object(ctx, ownerJS, e.obj)
	if err != nil {
		return nil, fmt.Errorf("browser: owner document: %w", err)
	}
	if obj == nil {
		return nil, dom.ErrDetached
	}
	return e.p.document(ctx, obj, e.inFrame)
}

func (e *Element) HasClass(ctx context.Context, class string) (bool, error) {
	res, err := e.p.value(ctx, hasClassJS, e.obj, class)
	if err != nil {
		return false, fmt.Errorf("browser: has class: %w", err)
	}
	return res.Value.Bool(), nil
}

func (e *Element) SetClassName(ctx context.Context, class string) error {
	if _, err := e.p.value(ctx, setClassJS, e.obj, class); err != nil {
		return fmt.Errorf("browser: set class: %w", err)
	}
	return nil
}

func (e *Element) SetText(ctx context.Context, text string) error {
	if _, err := e.p.value(ctx, setTextJS, e.obj, text); err != nil {
		return fmt.Errorf("browser: set text: %w", err)
	}
	return nil
}

func (e *Element) SetStyle(ctx context.Context, props []dom.StyleProp) error {
	pairs := make([][2]string, len(props))
	for i, p := range props {
		pairs[i] = [2]string{p.Name, p.Value}
	}
	if _, err := e.p.value(ctx, setStyleJS, e.obj, pairs); err != nil {
		return fmt.Errorf("browser: set style: %w", err)
	}
	return nil
}

func (e *Element) InsertAfter(ctx context.Context, ref dom.Element) error {
	r, ok := ref.(*Element)
	if !ok || r.p != e.p {
		return dom.ErrDetached
	}
	res, err := e.p.value(ctx, insertAfterJS, e.obj, r.obj)
	if err != nil {
		return fmt.Errorf("browser: insert: %w", err)
	}
	if !res.Value.Bool() {
		return dom.ErrDetached
	}
	return nil
}

func (e *Element) OnClick(ctx context.Context, fn func()) error {
	id := uuid.Must(uuid.NewV7()).String()
	e.p.mu.Lock()
	e.p.clicks[id] = fn
	e.p.mu.Unlock()

	if _, err := e.p.value(ctx, onClickJS, e.obj, id); err != nil {
		e.p.mu.Lock()
		delete(e.p.clicks, id)
		e.p.mu.Unlock()
		return fmt.Errorf("browser: click handler: %w", err)
	}
	return nil
}
