package alibaba

import (
	"context"
	"fmt"
	"sync"
)

type recordedCall struct {
	API    string
	Token  string
	Params map[string]any
	Method string
}

// fakeCaller answers Call from canned responses keyed by API name.
type fakeCaller struct {
	mu        sync.Mutex
	responses map[string]Response
	errs      map[string]error
	calls     []recordedCall
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{
		responses: make(map[string]Response),
		errs:      make(map[string]error),
	}
}

func (f *fakeCaller) Call(_ context.Context, api, token string, params map[string]any, method string) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recordedCall{API: api, Token: token, Params: params, Method: method})
	if err := f.errs[api]; err != nil {
		return nil, err
	}
	resp, ok := f.responses[api]
	if !ok {
		return nil, fmt.Errorf("unexpected api %s", api)
	}
	return resp, nil
}

func (f *fakeCaller) callsTo(api string) []recordedCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]recordedCall, 0)
	for _, c := range f.calls {
		if c.API == api {
			out = append(out, c)
		}
	}
	return out
}

func schemaResponse(xml string) Response {
	return Response{
		"alibaba_icbu_product_schema_get_response": map[string]any{
			"biz_success": true,
			"data":        xml,
		},
	}
}

func photobankResponse(items ...map[string]any) Response {
	list := make([]any, len(items))
	for i, it := range items {
		list[i] = it
	}
	return Response{
		"alibaba_icbu_photobank_list_response": map[string]any{
			"pagination_query_list": map[string]any{
				"list": map[string]any{
					"photobank_image_do": list,
				},
			},
		},
	}
}

const productSchema = `<itemSchema>
  <field id="productTitle" name="Product name" type="input">
    <rules><rule name="requiredRule" value="true"/></rules>
  </field>
  <field id="scPrice" name="Price setting" type="singleCheck">
    <options>
      <option value="1" displayName="Ladder"/>
      <option value="2" displayName="Range"/>
      <option value="3" displayName="SKU"/>
    </options>
  </field>
  <field id="minOrderQuantity" name="MOQ" type="input"/>
  <field id="productDescType" name="Description type" type="input"/>
  <field id="saleType" name="Sale type" type="singleCheck">
    <options>
      <option value="normal" displayName="Normal"/>
      <option value="wholesale" displayName="Wholesale"/>
    </options>
  </field>
  <field id="priceUnit" name="Unit" type="input"/>
  <field id="superText" name="Description" type="input"/>
  <field id="scImages" name="Images" type="complex">
    <fields><field id="scImages_0" name="Image 1" type="input"/></fields>
  </field>
  <field id="ladderPrice" name="Ladder price" type="complex">
    <fields>
      <field id="ladderPrice_0" name="Tier 1" type="complex">
        <fields>
          <field id="quantity" name="Quantity" type="input"/>
          <field id="price" name="Price" type="input"/>
        </fields>
      </field>
    </fields>
  </field>
  <field id="ladderPeriod" name="Lead time" type="complex">
    <fields>
      <field id="ladderPeriod_0" name="Period 1" type="complex">
        <fields>
          <field id="quantity" name="Quantity" type="input"/>
          <field id="day" name="Days" type="input"/>
        </fields>
      </field>
    </fields>
  </field>
  <field id="fob" name="FOB" type="complex">
    <fields>
      <field id="range_min" name="Min" type="input"/>
      <field id="range_max" name="Max" type="input"/>
      <field id="unit_type" name="Currency" type="input"/>
    </fields>
  </field>
  <field id="shippingTemplate" name="Shipping" type="complex">
    <fields>
      <field id="templateType" name="Template type" type="input"/>
      <field id="shippingTemplateId" name="Template id" type="input"/>
    </fields>
  </field>
</itemSchema>`
