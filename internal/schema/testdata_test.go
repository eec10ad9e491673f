package schema

const sampleSchema = `<?xml version="1.0" encoding="UTF-8"?>
<itemSchema>
  <field id="productTitle" name="Product name" type="input" required="true">
    <rules>
      <rule name="requiredRule" value="true"/>
      <rule name="maxLengthRule" value="128"/>
    </rules>
    <value/>
  </field>
  <field id="saleType" name="Sale type" type="singleCheck">
    <options>
      <option value="normal" displayName="Normal"/>
      <option value="wholesale" displayName="Wholesale"/>
    </options>
    <value>normal</value>
  </field>
  <field id="color" name="Color" type="multiCheck">
    <rules>
      <rule name="valueAttributeRule" value="inputValue"/>
    </rules>
    <options>
      <option value="1" displayName="Red"/>
      <option value="2" displayName="Blue"/>
    </options>
    <values/>
  </field>
  <field id="pkgMeasure" name="Package size" type="complex">
    <fields>
      <field id="length" name="Length" type="input"/>
      <field id="width" name="Width" type="input"/>
    </fields>
    <complex-value>
      <field id="length" type="input"><value/></field>
      <field id="width" type="input"><value/></field>
    </complex-value>
  </field>
  <field id="ladderPrice" name="Ladder price" type="multiComplex">
    <fields>
      <field id="quantity" name="Quantity" type="input"/>
      <field id="price" name="Price" type="input"/>
    </fields>
    <values>
      <complex-value>
        <field id="quantity" type="input"/>
        <field id="price" type="input"/>
      </complex-value>
    </values>
  </field>
</itemSchema>`
